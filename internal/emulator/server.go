// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package emulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/ffutop/mcdrive/internal/config"
	"github.com/ffutop/mcdrive/protocol"
	"github.com/grid-x/serial"
)

// Serve answers frames read from rw until ctx is done or the stream ends.
// Unsolicited messages of the bus are written to rw as well.
func (b *Bus) Serve(ctx context.Context, rw io.ReadWriter) error {
	var wmu sync.Mutex
	write := func(msgs []protocol.Message) {
		wmu.Lock()
		defer wmu.Unlock()
		for _, m := range msgs {
			raw, err := m.Encode()
			if err != nil {
				slog.Error("emulator: failed to encode response", "err", err)
				continue
			}
			if _, err := rw.Write(raw); err != nil {
				slog.Debug("emulator: write failed", "err", err)
				return
			}
		}
	}
	cancel := b.Subscribe(write)
	defer cancel()

	if c, ok := rw.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	var framer protocol.Framer
	emit := func(frame []byte, err error) {
		if err != nil {
			slog.Warn("emulator: framing error", "err", err)
			return
		}
		msg, err := protocol.Decode(frame)
		if err != nil {
			slog.Warn("emulator: frame decode failed", "err", err)
			return
		}
		write(b.Handle(*msg))
	}
	buf := make([]byte, protocol.MaxSize)
	for {
		n, err := rw.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			return err
		}
		framer.Feed(buf[:n], emit)
	}
}

// ServeTCP listens on address and serves every connection.
func (b *Bus) ServeTCP(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	slog.Info("Emulator listening", "addr", listener.Addr(), "nodes", b.NodeIDs())
	return b.serveListener(ctx, listener)
}

func (b *Bus) serveListener(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				slog.Error("Failed to accept connection", "err", err)
				continue
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			slog.Info("Host connected", "addr", conn.RemoteAddr())
			if err := b.Serve(ctx, conn); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Connection closed with error", "addr", conn.RemoteAddr(), "err", err)
			}
		}()
	}
}

// ServeSerial serves the bus on a serial device.
func (b *Bus) ServeSerial(ctx context.Context, cfg config.SerialConfig) error {
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return fmt.Errorf("could not open %s: %w", cfg.Device, err)
	}
	defer port.Close()
	slog.Info("Emulator serving serial line", "device", cfg.Device, "nodes", b.NodeIDs())
	return b.Serve(ctx, port)
}
