// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ffutop/mcdrive/internal/config"
	"github.com/grid-x/serial"
)

var errNotConnected = errors.New("link: not connected")

// SerialBackend is a drive bus on a serial line.
type SerialBackend struct {
	// Serial port configuration.
	serial.Config

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port io.ReadWriteCloser
}

// NewSerialBackend maps the serial settings onto a backend.
func NewSerialBackend(cfg config.SerialConfig) *SerialBackend {
	b := &SerialBackend{}
	b.Config.Address = cfg.Device
	b.Config.BaudRate = cfg.BaudRate
	b.Config.DataBits = cfg.DataBits
	b.Config.StopBits = cfg.StopBits
	b.Config.Parity = cfg.Parity
	b.Config.Timeout = cfg.Timeout
	if cfg.RS485 {
		b.Config.RS485 = serial.RS485Config{
			Enabled:            true,
			DelayRtsBeforeSend: cfg.DelayRtsBeforeSend,
			DelayRtsAfterSend:  cfg.DelayRtsAfterSend,
			RtsHighDuringSend:  cfg.RtsHighDuringSend,
			RtsHighAfterSend:   cfg.RtsHighAfterSend,
			RxDuringTx:         cfg.RxDuringTx,
		}
	}
	return b
}

func (b *SerialBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if b.port == nil {
		port, err := serial.Open(&b.Config)
		if err != nil {
			return fmt.Errorf("could not open %s: %w", b.Config.Address, err)
		}
		b.port = port
	}
	return nil
}

func (b *SerialBackend) current() (io.ReadWriteCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port == nil {
		return nil, errNotConnected
	}
	return b.port, nil
}

// Read returns after the configured timeout when the line is quiet.
func (b *SerialBackend) Read(p []byte) (int, error) {
	port, err := b.current()
	if err != nil {
		return 0, io.EOF
	}
	return port.Read(p)
}

func (b *SerialBackend) Write(p []byte) (int, error) {
	port, err := b.current()
	if err != nil {
		return 0, err
	}
	return port.Write(p)
}

func (b *SerialBackend) Close() (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.port != nil {
		err = b.port.Close()
		b.port = nil
	}
	return
}
