// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package scheduler runs periodic callbacks from one loop and supplies the
// time stamps the control layers are advanced with.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Task is a periodic callback. now is the time of the step running it.
type Task func(now time.Time)

type entry struct {
	id    int
	every time.Duration
	next  time.Time
	fn    Task
}

// Scheduler calls registered tasks when they are due. All tasks run on the
// goroutine calling Step or Run.
type Scheduler struct {
	clock  clock.Clock
	period time.Duration

	mu      sync.Mutex
	entries []*entry
	nextID  int
}

// New creates a scheduler stepping every period. A nil clk uses the wall
// clock.
func New(clk clock.Clock, period time.Duration) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{clock: clk, period: period}
}

// Now is the current time of the scheduler clock.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// Period is the base period of Run.
func (s *Scheduler) Period() time.Duration { return s.period }

// Every registers fn to run every d, first on the next step. A d shorter
// than the base period runs on every step. The returned func unregisters fn.
func (s *Scheduler) Every(d time.Duration, fn Task) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, &entry{id: id, every: d, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.entries {
			if e.id == id {
				s.entries = append(s.entries[:i], s.entries[i+1:]...)
				return
			}
		}
	}
}

// Step runs every due task once and returns how many ran.
func (s *Scheduler) Step() int {
	now := s.clock.Now()

	s.mu.Lock()
	var due []Task
	for _, e := range s.entries {
		if e.next.IsZero() || !now.Before(e.next) {
			due = append(due, e.fn)
			e.next = now.Add(e.every)
		}
	}
	s.mu.Unlock()

	for _, fn := range due {
		fn(now)
	}
	return len(due)
}

// Run steps on every tick of the base period until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.period)
	defer ticker.Stop()
	slog.Debug("scheduler: running", "period", s.period)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Step()
		}
	}
}
