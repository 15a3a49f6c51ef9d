// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package drive

import (
	"time"

	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/sdo"
)

type refreshStep int

const (
	refreshFirst refreshStep = iota
	refreshSecond
)

// WaitForStatus polls the status word every cycle until all bits of mask
// are set. It is done only when the mask matches and no control word, poll
// or SDO request is outstanding.
//
// No poll is sent while an SDO request holds the link.
func (c *Controller) WaitForStatus(mask uint16, cycle time.Duration) sdo.State {
	if s, ok := c.enter(OpWaitStatus); !ok {
		return s
	}
	sdoIdle := c.node.SDOState() == sdo.Idle
	if c.node.StatusWord()&mask == mask && c.controlIdle() && sdoIdle {
		return c.finish()
	}
	if sdoIdle {
		c.node.PollStatusWord(cycle)
	}
	return c.checkComState()
}

// IsInPosition waits for target reached.
func (c *Controller) IsInPosition() sdo.State {
	return c.WaitForStatus(cia402.TargetReached, c.pollCycle)
}

// IsHomingFinished waits for homing attained together with target reached.
func (c *Controller) IsHomingFinished() sdo.State {
	return c.WaitForStatus(cia402.HomingFinished, c.pollCycle)
}

// WriteObject writes the low size bytes of value to obj.
func (c *Controller) WriteObject(obj cia402.Object, value uint32, size int) sdo.State {
	if s, ok := c.enter(OpWriteObject); !ok {
		return s
	}
	if c.write(obj, value, size) {
		return c.finish()
	}
	return c.checkComState()
}

// UpdateDriveStatus reads the operating mode display and then the status
// word.
func (c *Controller) UpdateDriveStatus() sdo.State {
	if s, ok := c.enter(OpUpdateStatus); !ok {
		return s
	}
	switch c.refresh {
	case refreshFirst:
		if v, ok := c.read(cia402.ObjModesDisplay); ok {
			c.modeReported = cia402.Mode(int8(v))
			c.refresh = refreshSecond
		}
	case refreshSecond:
		if v, ok := c.read(cia402.ObjStatusWord); ok {
			c.node.SetStatusWord(uint16(v))
			return c.finish()
		}
	}
	return c.checkComState()
}

// UpdateActualValues reads the actual position and then the actual
// velocity.
func (c *Controller) UpdateActualValues() sdo.State {
	if s, ok := c.enter(OpUpdateActuals); !ok {
		return s
	}
	switch c.refresh {
	case refreshFirst:
		if v, ok := c.read(cia402.ObjPositionActual); ok {
			c.position = int32(v)
			c.refresh = refreshSecond
		}
	case refreshSecond:
		if v, ok := c.read(cia402.ObjVelocityActual); ok {
			c.velocity = int32(v)
			return c.finish()
		}
	}
	return c.checkComState()
}

// UpdateMotorTemperature reads the motor winding temperature.
func (c *Controller) UpdateMotorTemperature() sdo.State {
	if s, ok := c.enter(OpUpdateTemperature); !ok {
		return s
	}
	if v, ok := c.read(cia402.ObjMotorTemperature); ok {
		c.temperature = int16(uint16(v))
		return c.finish()
	}
	return c.checkComState()
}

// UpdateDriveErrors reads the manufacturer error register.
func (c *Controller) UpdateDriveErrors() sdo.State {
	if s, ok := c.enter(OpUpdateErrors); !ok {
		return s
	}
	if v, ok := c.read(cia402.ObjErrorRegister); ok {
		c.errors = uint16(v)
		return c.finish()
	}
	return c.checkComState()
}
