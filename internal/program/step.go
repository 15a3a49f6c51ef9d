// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package program runs configured motion programs against drives on one
// link from a single control loop.
package program

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/drive"
	"github.com/ffutop/mcdrive/internal/config"
	"github.com/ffutop/mcdrive/sdo"
	"golang.org/x/exp/slices"
)

// Step is one compiled program step.
type Step struct {
	Op string
	// run is called once per tick until it leaves Waiting. Nil for delays.
	run   func(c *drive.Controller) sdo.State
	delay time.Duration
}

var validSizes = []int{1, 2, 4}

// Compile translates the configured steps. The drive status is refreshed
// before the first step so that the state machine starts from the real
// status word and operating mode.
func Compile(steps []config.StepConfig) ([]Step, error) {
	out := make([]Step, 0, len(steps)+1)
	out = append(out, Step{Op: "status", run: (*drive.Controller).UpdateDriveStatus})
	for i, sc := range steps {
		st, err := compileStep(sc)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		out = append(out, st)
	}
	return out, nil
}

func compileStep(sc config.StepConfig) (Step, error) {
	st := Step{Op: sc.Op}
	switch sc.Op {
	case "enable":
		st.run = (*drive.Controller).Enable
	case "disable":
		st.run = (*drive.Controller).Disable
	case "stop":
		st.run = (*drive.Controller).Stop
	case "mode":
		mode, err := ParseMode(sc.Mode)
		if err != nil {
			return st, err
		}
		st.run = func(c *drive.Controller) sdo.State { return c.SetOperatingMode(mode) }
	case "profile":
		st.run = func(c *drive.Controller) sdo.State {
			return c.SetProfile(sc.Acceleration, sc.Deceleration, uint32(sc.Speed), sc.ProfileType)
		}
	case "move_abs":
		st.run = func(c *drive.Controller) sdo.State { return c.MoveAbsolute(sc.Position, sc.Immediate) }
	case "move_rel":
		st.run = func(c *drive.Controller) sdo.State { return c.MoveRelative(sc.Position, sc.Immediate) }
	case "speed":
		st.run = func(c *drive.Controller) sdo.State { return c.MoveAtSpeed(sc.Speed) }
	case "homing_method":
		st.run = func(c *drive.Controller) sdo.State { return c.ConfigureHoming(sc.Method) }
	case "home":
		st.run = (*drive.Controller).StartHoming
	case "wait_in_pos":
		st.run = (*drive.Controller).IsInPosition
	case "wait_homed":
		st.run = (*drive.Controller).IsHomingFinished
	case "status":
		st.run = (*drive.Controller).UpdateDriveStatus
	case "actuals":
		st.run = (*drive.Controller).UpdateActualValues
	case "temp":
		st.run = (*drive.Controller).UpdateMotorTemperature
	case "errors":
		st.run = (*drive.Controller).UpdateDriveErrors
	case "write":
		obj, err := ParseObject(sc.Object)
		if err != nil {
			return st, err
		}
		if !slices.Contains(validSizes, sc.Size) {
			return st, fmt.Errorf("write %s: invalid size %d", obj, sc.Size)
		}
		st.run = func(c *drive.Controller) sdo.State { return c.WriteObject(obj, sc.Value, sc.Size) }
	case "reset":
		st.run = func(c *drive.Controller) sdo.State {
			if c.SendReset() {
				return sdo.Done
			}
			return sdo.Waiting
		}
	case "delay":
		if sc.Duration <= 0 {
			return st, fmt.Errorf("delay: invalid duration %v", sc.Duration)
		}
		st.delay = sc.Duration
	default:
		return st, fmt.Errorf("unknown op %q", sc.Op)
	}
	return st, nil
}

// ParseMode parses an operating mode name or number.
func ParseMode(s string) (cia402.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pp", "profile_position", "1":
		return cia402.ModeProfilePosition, nil
	case "pv", "profile_velocity", "3":
		return cia402.ModeProfileVelocity, nil
	case "hm", "homing", "6":
		return cia402.ModeHoming, nil
	}
	return cia402.ModeNone, fmt.Errorf("unknown operating mode %q", s)
}

// ParseObject parses an object address like "0x6081.00" or "0x2326.3". A
// missing sub index is 0.
func ParseObject(s string) (cia402.Object, error) {
	index, sub, _ := strings.Cut(strings.TrimSpace(s), ".")
	i, err := strconv.ParseUint(index, 0, 16)
	if err != nil {
		return cia402.Object{}, fmt.Errorf("invalid object index %q: %w", s, err)
	}
	obj := cia402.Object{Index: uint16(i)}
	if sub != "" {
		n, err := strconv.ParseUint(sub, 16, 8)
		if err != nil {
			return cia402.Object{}, fmt.Errorf("invalid object sub index %q: %w", s, err)
		}
		obj.SubIndex = uint8(n)
	}
	return obj, nil
}
