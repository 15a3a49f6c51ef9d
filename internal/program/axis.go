// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package program

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/mcdrive/drive"
	"github.com/ffutop/mcdrive/sdo"
)

// ErrStepFailed is wrapped by the error of an axis whose step failed on
// every attempt.
var ErrStepFailed = errors.New("program: step failed")

// Axis runs the program of one drive.
type Axis struct {
	Name string

	ctrl     *drive.Controller
	steps    []Step
	attempts int

	index    int
	tries    int
	delaying bool
	until    time.Time
	err      error
}

// NewAxis creates an axis. Each step is tried up to attempts times.
func NewAxis(name string, ctrl *drive.Controller, steps []Step, attempts int) *Axis {
	if attempts <= 0 {
		attempts = 1
	}
	return &Axis{Name: name, ctrl: ctrl, steps: steps, attempts: attempts}
}

func (a *Axis) Controller() *drive.Controller { return a.ctrl }

// Finished reports whether the program completed or failed.
func (a *Axis) Finished() bool { return a.err != nil || a.index >= len(a.steps) }

// Err is the failure of the program, nil while running or after success.
func (a *Axis) Err() error { return a.err }

// Index is the index of the current step.
func (a *Axis) Index() int { return a.index }

// Current is the op of the current step, empty when finished.
func (a *Axis) Current() string {
	if a.Finished() {
		return ""
	}
	return a.steps[a.index].Op
}

// Tick advances the current step by one call. The controller must already
// see now.
func (a *Axis) Tick(now time.Time) {
	if a.Finished() {
		return
	}
	st := a.steps[a.index]

	var s sdo.State
	if st.run == nil {
		if !a.delaying {
			a.delaying = true
			a.until = now.Add(st.delay)
		}
		if now.Before(a.until) {
			return
		}
		a.delaying = false
		s = sdo.Done
	} else {
		s = st.run(a.ctrl)
	}

	switch {
	case s == sdo.Done:
		a.ctrl.Reset()
		slog.Info("program: step done", "axis", a.Name, "step", a.index, "op", st.Op)
		a.index++
		a.tries = 0
		if a.index == len(a.steps) {
			slog.Info("program: finished", "axis", a.Name)
		}
	case s.Failed():
		cause := a.ctrl.Err()
		if cause == nil {
			cause = errors.New(s.String())
		}
		a.ctrl.Reset()
		a.tries++
		slog.Warn("program: step failed", "axis", a.Name, "step", a.index, "op", st.Op, "state", s,
			"attempt", a.tries, "of", a.attempts, "err", cause)
		if a.tries >= a.attempts {
			a.err = fmt.Errorf("axis %s: step %d (%s): %w: %w", a.Name, a.index, st.Op, ErrStepFailed, cause)
			slog.Error("program: aborted", "axis", a.Name, "err", a.err)
		}
	case s == sdo.Busy:
		slog.Warn("program: controller owned by another operation", "axis", a.Name, "op", a.ctrl.Operation())
		a.ctrl.Reset()
	}
}
