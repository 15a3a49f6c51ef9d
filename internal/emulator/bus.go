// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package emulator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ffutop/mcdrive/internal/config"
	"github.com/ffutop/mcdrive/internal/emulator/persistence"
	"github.com/ffutop/mcdrive/protocol"
	"github.com/jpillora/maplock"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
)

// Bus is a set of simulated drives sharing one line. Frames for a node are
// processed under that node's lock, so connections and the motion ticker
// may run concurrently.
type Bus struct {
	drives map[byte]*Drive
	ids    []byte
	locks  *maplock.Maplock

	mu     sync.Mutex
	nextID int
	subs   map[int]func([]protocol.Message)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		drives: make(map[byte]*Drive),
		locks:  maplock.New(),
		subs:   make(map[int]func([]protocol.Message)),
	}
}

// NewBusFromConfig creates one drive per configured node id.
func NewBusFromConfig(cfg config.EmulatorConfig) (*Bus, error) {
	ids, err := config.ParseNodeIDs(cfg.NodeIDs)
	if err != nil {
		return nil, fmt.Errorf("emulator: %w", err)
	}
	opts := Options{MoveTicks: cfg.MoveTicks, HomingTicks: cfg.HomingTicks}

	b := NewBus()
	for _, id := range ids {
		store, err := persistence.Open(cfg.Persistence, id)
		if err != nil {
			return nil, multierr.Append(err, b.Close())
		}
		d, err := NewDrive(id, store, opts)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("emulator: node %d: %w", id, err), b.Close())
		}
		if err := b.Add(d); err != nil {
			return nil, multierr.Combine(err, d.Close(), b.Close())
		}
	}
	return b, nil
}

// Add attaches a drive to the bus.
func (b *Bus) Add(d *Drive) error {
	if _, ok := b.drives[d.NodeID()]; ok {
		return fmt.Errorf("emulator: node %d already on the bus", d.NodeID())
	}
	b.drives[d.NodeID()] = d
	b.ids = append(b.ids, d.NodeID())
	slices.Sort(b.ids)
	return nil
}

// NodeIDs lists the node ids in ascending order.
func (b *Bus) NodeIDs() []byte {
	return slices.Clone(b.ids)
}

// Drive returns the drive of id or nil.
func (b *Bus) Drive(id byte) *Drive {
	return b.drives[id]
}

func key(id byte) string { return strconv.Itoa(int(id)) }

// With runs fn on the drive of id while holding its lock.
func (b *Bus) With(id byte, fn func(d *Drive)) bool {
	d, ok := b.drives[id]
	if !ok {
		return false
	}
	b.locks.Lock(key(id))
	defer b.locks.Unlock(key(id))
	fn(d)
	return true
}

// Handle processes one frame. Frames for unknown nodes stay unanswered.
func (b *Bus) Handle(msg protocol.Message) []protocol.Message {
	var out []protocol.Message
	if !b.With(msg.NodeID, func(d *Drive) { out = d.Process(msg) }) {
		slog.Debug("emulator: frame for absent node", "node", msg.NodeID, "command", msg.Command)
	}
	return out
}

// Tick advances every drive and broadcasts status changes.
func (b *Bus) Tick() {
	var out []protocol.Message
	for _, id := range b.ids {
		b.With(id, func(d *Drive) { out = append(out, d.Tick()...) })
	}
	b.broadcast(out)
}

// InjectFault faults the drive of id and broadcasts its emergency.
func (b *Bus) InjectFault(id byte, code uint16) bool {
	var out []protocol.Message
	ok := b.With(id, func(d *Drive) { out = d.InjectFault(code) })
	b.broadcast(out)
	return ok
}

// Subscribe registers fn for unsolicited messages and returns a cancel
// function.
func (b *Bus) Subscribe(fn func([]protocol.Message)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

func (b *Bus) broadcast(msgs []protocol.Message) {
	if len(msgs) == 0 {
		return
	}
	b.mu.Lock()
	subs := make([]func([]protocol.Message), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()
	for _, fn := range subs {
		fn(msgs)
	}
}

// Run ticks the bus every period of clk until ctx is done.
func (b *Bus) Run(ctx context.Context, clk clock.Clock, period time.Duration) {
	ticker := clk.Ticker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Tick()
		}
	}
}

// Close persists and closes every drive.
func (b *Bus) Close() error {
	var err error
	for _, id := range b.ids {
		err = multierr.Append(err, b.drives[id].Close())
	}
	return err
}
