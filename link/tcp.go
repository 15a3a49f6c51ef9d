// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package link

import (
	"context"
	"io"
	"net"
	"sync"
	"time"
)

const tcpTimeout = 2 * time.Second

// TCPBackend carries raw frames over a TCP connection, e.g. to a serial
// device server or to the emulator.
type TCPBackend struct {
	Address string
	Timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewTCPBackend allocates a TCP backend for address.
func NewTCPBackend(address string, timeout time.Duration) *TCPBackend {
	if timeout <= 0 {
		timeout = tcpTimeout
	}
	return &TCPBackend{
		Address: address,
		Timeout: timeout,
	}
}

func (b *TCPBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return nil
	}
	dialer := net.Dialer{Timeout: b.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", b.Address)
	if err != nil {
		return err
	}
	b.conn = conn
	return nil
}

func (b *TCPBackend) current() net.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}

func (b *TCPBackend) Read(p []byte) (int, error) {
	conn := b.current()
	if conn == nil {
		return 0, io.EOF
	}
	return conn.Read(p)
}

func (b *TCPBackend) Write(p []byte) (int, error) {
	conn := b.current()
	if conn == nil {
		return 0, errNotConnected
	}
	if err := conn.SetWriteDeadline(time.Now().Add(b.Timeout)); err != nil {
		return 0, err
	}
	return conn.Write(p)
}

func (b *TCPBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}
