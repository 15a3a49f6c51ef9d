// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package program

import (
	"testing"
	"time"

	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/drive"
	"github.com/ffutop/mcdrive/internal/config"
	"github.com/ffutop/mcdrive/internal/emulator"
	"github.com/ffutop/mcdrive/internal/linktest"
	"github.com/ffutop/mcdrive/sdo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nodeID = 4

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// runAxis ticks a until it finishes and returns the number of ticks.
func runAxis(t *testing.T, l *linktest.Link, emu *emulator.Drive, a *Axis, now time.Time) int {
	t.Helper()
	for i := 1; i <= 2000; i++ {
		now = now.Add(5 * time.Millisecond)
		if emu != nil {
			for _, m := range emu.Tick() {
				l.Inject(m)
			}
		}
		l.Deliver()
		a.Controller().SetActTime(now)
		a.Tick(now)
		if a.Finished() {
			return i
		}
	}
	t.Fatalf("axis %s stuck at step %d (%s)", a.Name, a.Index(), a.Current())
	return 0
}

func TestAxis_Program(t *testing.T) {
	emu, err := emulator.NewDrive(nodeID, nil, emulator.Options{MoveTicks: 3, HomingTicks: 3})
	require.NoError(t, err)
	l := linktest.New(nodeID)
	l.Responder = emu.Process

	steps, err := Compile([]config.StepConfig{
		{Op: "enable"},
		{Op: "profile", Acceleration: 500, Deceleration: 600, Speed: 700},
		{Op: "homing_method", Method: 17},
		{Op: "home"},
		{Op: "wait_homed"},
		{Op: "move_abs", Position: 400},
		{Op: "wait_in_pos"},
		{Op: "move_rel", Position: 100, Immediate: true},
		{Op: "wait_in_pos"},
		{Op: "actuals"},
		{Op: "delay", Duration: 50 * time.Millisecond},
		{Op: "disable"},
	})
	require.NoError(t, err)

	ctrl := drive.New(l, l.Channel(nodeID))
	a := NewAxis("x", ctrl, steps, 1)
	ticks := runAxis(t, l, emu, a, t0)

	require.NoError(t, a.Err())
	assert.Greater(t, ticks, 10, "delay step waits")
	assert.Equal(t, int32(500), ctrl.ActualPosition())
	assert.Equal(t, cia402.StateSwitchOnDisabled, emu.State())
	assert.Equal(t, uint32(700), emu.Dictionary().Get(cia402.ObjProfileVelocity))
	assert.Equal(t, uint32(17), emu.Dictionary().Get(cia402.ObjHomingMethod))
	assert.Equal(t, sdo.Idle, ctrl.State())
	assert.Empty(t, a.Current())
}

func TestAxis_RetriesThenFails(t *testing.T) {
	l := linktest.New(nodeID)
	steps, err := Compile([]config.StepConfig{{Op: "temp"}})
	require.NoError(t, err)

	ctrl := drive.New(l, l.Channel(nodeID))
	ctrl.SetTimeoutRetryMax(0)
	a := NewAxis("y", ctrl, steps, 2)
	runAxis(t, l, nil, a, t0)

	require.Error(t, a.Err())
	assert.ErrorIs(t, a.Err(), ErrStepFailed)
	assert.ErrorIs(t, a.Err(), sdo.ErrResponseTimeout)
	assert.Equal(t, 0, a.Index(), "the status step never completed")
	assert.Len(t, l.Sent, 2, "one request per attempt")
	assert.False(t, l.Locked())
}
