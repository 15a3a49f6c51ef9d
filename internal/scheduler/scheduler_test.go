// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestScheduler_Step(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock, 5*time.Millisecond)

	var fast, slow []time.Time
	s.Every(0, func(now time.Time) { fast = append(fast, now) })
	s.Every(20*time.Millisecond, func(now time.Time) { slow = append(slow, now) })

	start := mock.Now()
	for i := 0; i < 9; i++ {
		s.Step()
		mock.Add(5 * time.Millisecond)
	}

	assert.Len(t, fast, 9)
	assert.Equal(t, []time.Time{
		start,
		start.Add(20 * time.Millisecond),
		start.Add(40 * time.Millisecond),
	}, slow)
}

func TestScheduler_Cancel(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock, time.Millisecond)

	var a, b int
	cancelA := s.Every(0, func(time.Time) { a++ })
	s.Every(0, func(time.Time) { b++ })

	require.Equal(t, 2, s.Step())
	cancelA()
	cancelA()
	require.Equal(t, 1, s.Step())
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestScheduler_Now(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock, time.Millisecond)
	mock.Add(time.Hour)
	assert.Equal(t, mock.Now(), s.Now())
	assert.Equal(t, time.Millisecond, s.Period())
}

func TestScheduler_Run(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock, 10*time.Millisecond)

	calls := atomic.NewInt32(0)
	s.Every(0, func(time.Time) { calls.Inc() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		mock.Add(10 * time.Millisecond)
		return calls.Load() >= 3
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
