// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package link

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

const localWriteTimeout = 100 * time.Millisecond

// Server answers frames written to a byte stream, e.g. an emulated bus.
type Server interface {
	Serve(ctx context.Context, rw io.ReadWriter) error
}

// LocalBackend connects a Handler to an in-process Server through a pipe.
// Writes give up after Timeout when the server does not read.
type LocalBackend struct {
	Timeout time.Duration

	server Server

	mu     sync.Mutex
	conn   net.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLocalBackend(server Server) *LocalBackend {
	return &LocalBackend{server: server, Timeout: localWriteTimeout}
}

func (b *LocalBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return nil
	}

	client, remote := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	b.conn = client
	b.cancel = cancel
	b.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		defer remote.Close()
		err := b.server.Serve(ctx, remote)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.ErrClosedPipe) {
			slog.Error("link: local server stopped", "err", err)
		}
	}(b.done)
	return nil
}

func (b *LocalBackend) current() net.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}

func (b *LocalBackend) Read(p []byte) (int, error) {
	conn := b.current()
	if conn == nil {
		return 0, io.EOF
	}
	return conn.Read(p)
}

func (b *LocalBackend) Write(p []byte) (int, error) {
	conn := b.current()
	if conn == nil {
		return 0, errNotConnected
	}
	if err := conn.SetWriteDeadline(time.Now().Add(b.Timeout)); err != nil {
		return 0, err
	}
	return conn.Write(p)
}

func (b *LocalBackend) Close() error {
	b.mu.Lock()
	conn, cancel, done := b.conn, b.cancel, b.done
	b.conn, b.cancel, b.done = nil, nil, nil
	b.mu.Unlock()

	if conn == nil {
		return nil
	}
	cancel()
	err := conn.Close()
	<-done
	return err
}
