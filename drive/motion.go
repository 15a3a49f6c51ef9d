// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package drive

import (
	"log/slog"

	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/sdo"
)

type moveStep int

const (
	moveMode moveStep = iota
	moveSettle
	moveTarget
	moveStart
	moveRelease
)

type speedStep int

const (
	speedMode speedStep = iota
	speedTarget
)

type profileStep int

const (
	profileAcceleration profileStep = iota
	profileDeceleration
	profileVelocity
	profileType
)

type homingStep int

const (
	homingClearStart homingStep = iota
	homingMode
	homingVerify
	homingStart
	homingRelease
	homingFinished
)

// ensureMode writes mode unless it is already the known mode. It reports
// true once the drive runs in mode.
func (c *Controller) ensureMode(mode cia402.Mode) bool {
	if c.node.SDOState() == sdo.Done {
		c.node.Reset()
		c.modeReported = c.modeRequested
		return true
	}
	if c.modeReported == mode {
		return true
	}
	c.modeRequested = mode
	c.node.WriteObject(cia402.ObjModesOfOperation, uint32(uint8(mode)), 1)
	return false
}

// SetOperatingMode switches the operating mode. Nothing is written when the
// known mode already equals mode.
func (c *Controller) SetOperatingMode(mode cia402.Mode) sdo.State {
	if s, ok := c.enter(OpSetMode); !ok {
		return s
	}
	if c.ensureMode(mode) {
		return c.finish()
	}
	return c.checkComState()
}

// SetProfile writes the profile acceleration, deceleration, velocity and the
// motion profile type, in that order.
func (c *Controller) SetProfile(acc, dec, velocity uint32, profile int16) sdo.State {
	if s, ok := c.enter(OpSetProfile); !ok {
		return s
	}
	switch c.profile {
	case profileAcceleration:
		if c.write(cia402.ObjProfileAcceleration, acc, 4) {
			c.profile = profileDeceleration
		}
	case profileDeceleration:
		if c.write(cia402.ObjProfileDeceleration, dec, 4) {
			c.profile = profileVelocity
		}
	case profileVelocity:
		if c.write(cia402.ObjProfileVelocity, velocity, 4) {
			c.profile = profileType
		}
	case profileType:
		if c.write(cia402.ObjMotionProfileType, uint32(uint16(profile)), 2) {
			return c.finish()
		}
	}
	return c.checkComState()
}

// MoveAbsolute starts a profile position move to target. With immediate the
// new set point replaces a running one.
func (c *Controller) MoveAbsolute(target int32, immediate bool) sdo.State {
	return c.movePosition(target, immediate, false)
}

// MoveRelative starts a profile position move by target from the current
// position.
func (c *Controller) MoveRelative(target int32, immediate bool) sdo.State {
	return c.movePosition(target, immediate, true)
}

func (c *Controller) movePosition(target int32, immediate, relative bool) sdo.State {
	if s, ok := c.enter(OpMovePosition); !ok {
		return s
	}
	sw, cw := c.node.StatusWord(), c.node.ControlWord()
	ack := sw&cia402.Acknowledge != 0

	switch c.move {
	case moveMode:
		if c.ensureMode(cia402.ModeProfilePosition) {
			c.move = moveSettle
		}
	case moveSettle:
		// A previous set point must be released before a new one is taken.
		if c.settle(cw&cia402.StartBit == 0 && !ack, cw&^cia402.StartBit) {
			c.move = moveTarget
		}
	case moveTarget:
		if c.write(cia402.ObjTargetPosition, uint32(target), 4) {
			c.move = moveStart
		}
	case moveStart:
		next := cw | cia402.StartBit
		if immediate {
			next |= cia402.ImmediateBit
		}
		if relative {
			next |= cia402.RelativeBit
		}
		if c.settle(ack, next) {
			slog.Debug("drive: set point acknowledged", "node", c.NodeID(), "target", target, "relative", relative)
			c.move = moveRelease
		}
	case moveRelease:
		if c.settle(!ack, cw&^cia402.MotionBits) {
			return c.finish()
		}
	}
	return c.checkComState()
}

// MoveAtSpeed runs the drive in profile velocity mode at speed.
func (c *Controller) MoveAtSpeed(speed int32) sdo.State {
	if s, ok := c.enter(OpMoveVelocity); !ok {
		return s
	}
	switch c.speed {
	case speedMode:
		if c.ensureMode(cia402.ModeProfileVelocity) {
			c.speed = speedTarget
		}
	case speedTarget:
		if c.write(cia402.ObjTargetVelocity, uint32(speed), 4) {
			return c.finish()
		}
	}
	return c.checkComState()
}

// ConfigureHoming selects the homing method.
func (c *Controller) ConfigureHoming(method int8) sdo.State {
	if s, ok := c.enter(OpConfigureHoming); !ok {
		return s
	}
	if c.write(cia402.ObjHomingMethod, uint32(uint8(method)), 1) {
		return c.finish()
	}
	return c.checkComState()
}

// StartHoming switches to homing mode and starts the configured method. The
// mode is read back after the write and written again until the drive
// reports homing mode. Use IsHomingFinished to wait for the result.
func (c *Controller) StartHoming() sdo.State {
	if s, ok := c.enter(OpStartHoming); !ok {
		return s
	}
	cw := c.node.ControlWord()

	switch c.homing {
	case homingClearStart:
		if c.pulse(cw &^ cia402.StartBit) {
			c.homing = homingMode
		}
	case homingMode:
		c.modeRequested = cia402.ModeHoming
		if c.write(cia402.ObjModesOfOperation, uint32(uint8(cia402.ModeHoming)), 1) {
			c.homing = homingVerify
		}
	case homingVerify:
		if v, ok := c.read(cia402.ObjModesDisplay); ok {
			c.modeReported = cia402.Mode(int8(v))
			if c.modeReported == c.modeRequested {
				c.homing = homingStart
			} else {
				slog.Debug("drive: homing mode not taken, writing again", "node", c.NodeID(), "mode", c.modeReported)
				c.homing = homingMode
			}
		}
	case homingStart:
		if c.pulse(cw | cia402.StartBit) {
			c.homing = homingRelease
		}
	case homingRelease:
		if c.pulse(cw &^ cia402.StartBit) {
			c.homing = homingFinished
		}
	case homingFinished:
		return c.finish()
	}
	return c.checkComState()
}
