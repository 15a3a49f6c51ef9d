// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package program

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ffutop/mcdrive/drive"
	"github.com/ffutop/mcdrive/internal/config"
	"github.com/ffutop/mcdrive/internal/emulator"
	"github.com/ffutop/mcdrive/link"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
)

// Runner owns the link and one axis per configured drive.
type Runner struct {
	handler *link.Handler
	axes    []*Axis

	// Set for the local link type.
	bus     *emulator.Bus
	busTick time.Duration
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewBackend creates the link backend selected by cfg. bus serves the local
// link type and may be nil otherwise.
func NewBackend(cfg config.LinkConfig, bus *emulator.Bus) (link.Backend, error) {
	switch cfg.Type {
	case "serial":
		return link.NewSerialBackend(cfg.Serial), nil
	case "tcp":
		return link.NewTCPBackend(cfg.Tcp.Address, cfg.Tcp.Timeout), nil
	case "local":
		if bus == nil {
			return nil, fmt.Errorf("local link without emulator")
		}
		return link.NewLocalBackend(bus), nil
	}
	return nil, fmt.Errorf("unsupported link type: %q", cfg.Type)
}

// New builds a runner from cfg. The local link type runs the configured
// emulator in process.
func New(cfg *config.Config) (*Runner, error) {
	var bus *emulator.Bus
	if cfg.Link.Type == "local" {
		b, err := emulator.NewBusFromConfig(cfg.Emulator)
		if err != nil {
			return nil, fmt.Errorf("failed to create emulator: %w", err)
		}
		bus = b
	}

	backend, err := NewBackend(cfg.Link, bus)
	if err != nil {
		if bus != nil {
			err = multierr.Append(err, bus.Close())
		}
		return nil, err
	}

	r, err := NewWithBackend(backend, cfg.Link, cfg.Drives)
	if err != nil {
		if bus != nil {
			err = multierr.Append(err, bus.Close())
		}
		return nil, err
	}
	r.bus = bus
	r.busTick = cfg.Emulator.Tick
	return r, nil
}

// NewWithBackend builds a runner for drives on backend.
func NewWithBackend(backend link.Backend, cfg config.LinkConfig, drives []config.DriveConfig) (*Runner, error) {
	h := link.NewHandler(backend, cfg.RxQueue)
	if cfg.ConnectAttempts > 0 {
		h.ConnectAttempts = cfg.ConnectAttempts
	}
	if cfg.ConnectDelay > 0 {
		h.ConnectDelay = cfg.ConnectDelay
	}

	r := &Runner{handler: h}
	var ids []byte
	for _, d := range drives {
		id := byte(d.NodeID)
		if slices.Contains(ids, id) {
			return nil, fmt.Errorf("drive %s: node id %d used twice", d.Name, id)
		}
		ids = append(ids, id)

		steps, err := Compile(d.Program)
		if err != nil {
			return nil, fmt.Errorf("drive %s: %w", d.Name, err)
		}
		ctrl := drive.New(h, h.AddNode(id))
		Configure(ctrl, d)
		r.axes = append(r.axes, NewAxis(d.Name, ctrl, steps, d.Attempts))
	}
	return r, nil
}

// Configure applies the timing and retry settings of d to ctrl. Unset
// values keep the controller defaults.
func Configure(ctrl *drive.Controller, d config.DriveConfig) {
	n := ctrl.Node()
	setMax(d.SDO.Busy, n.SDO().SetBusyRetryMax)
	setMax(d.SDO.Timeout, n.SDO().SetTimeoutRetryMax)
	setMax(d.Node.Busy, n.SetBusyRetryMax)
	setMax(d.Node.Timeout, n.SetTimeoutRetryMax)
	if d.ResponseTimeout > 0 {
		n.SDO().SetResponseTimeout(d.ResponseTimeout)
	}
	if d.ResponseDelay > 0 {
		ctrl.SetResponseDelay(d.ResponseDelay)
	}
	if d.PollCycle > 0 {
		ctrl.SetPollCycle(d.PollCycle)
	}
}

func setMax(v *int, set func(int)) {
	if v != nil {
		set(*v)
	}
}

func (r *Runner) Axes() []*Axis { return r.axes }

// Link exposes the link handler.
func (r *Runner) Link() *link.Handler { return r.handler }

// Start connects the link. With the local link type the emulator motion
// starts first.
func (r *Runner) Start(ctx context.Context) error {
	if r.bus != nil {
		ctx, cancel := context.WithCancel(ctx)
		r.cancel = cancel
		tick := r.busTick
		if tick <= 0 {
			tick = 10 * time.Millisecond
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.bus.Run(ctx, clock.New(), tick)
		}()
	}
	if err := r.handler.Start(ctx); err != nil {
		return err
	}
	slog.Info("program: link started", "drives", len(r.axes))
	return nil
}

// Tick is one control loop cycle: received frames are dispatched, all
// controllers see now, and every unfinished axis advances by one call.
func (r *Runner) Tick(now time.Time) {
	r.handler.Dispatch()
	for _, a := range r.axes {
		a.ctrl.SetActTime(now)
	}
	for _, a := range r.axes {
		a.Tick(now)
	}
}

// Finished reports whether every axis finished.
func (r *Runner) Finished() bool {
	for _, a := range r.axes {
		if !a.Finished() {
			return false
		}
	}
	return true
}

// Err combines the failures of all axes.
func (r *Runner) Err() error {
	var err error
	for _, a := range r.axes {
		err = multierr.Append(err, a.Err())
	}
	return err
}

// Close stops the link and the in-process emulator.
func (r *Runner) Close() error {
	err := r.handler.Close()
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	if r.bus != nil {
		err = multierr.Append(err, r.bus.Close())
	}
	return err
}
