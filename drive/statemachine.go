// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package drive

import (
	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/sdo"
)

// faultReset toggles the fault reset bit of base so that consecutive calls
// produce the rising edge the drive acts on.
func faultReset(base, cw uint16) uint16 {
	if cw&cia402.FaultResetBit != 0 {
		return base
	}
	return base | cia402.FaultResetBit
}

// EnableControlWord is the next control word on the way from status sw to
// operation enabled, given the current control word cw. Bits outside the
// transition bits are kept.
func EnableControlWord(sw, cw uint16) uint16 {
	base := cw &^ cia402.TransitionBits
	switch cia402.StateOf(sw) {
	case cia402.StateReadyToSwitchOn:
		return base | cia402.CommandSwitchOn
	case cia402.StateSwitchedOn, cia402.StateQuickStopActive:
		return base | cia402.CommandEnableOperation
	case cia402.StateFault:
		return faultReset(base, cw)
	}
	return base | cia402.CommandShutdown
}

// DisableControlWord is the next control word on the way from status sw to
// switch-on disabled. A faulted drive is reset first.
func DisableControlWord(sw, cw uint16) uint16 {
	base := cw &^ cia402.TransitionBits
	if cia402.StateOf(sw) == cia402.StateFault {
		return faultReset(base, cw)
	}
	return base | cia402.CommandDisableVoltage
}

// StopControlWord is the next control word on the way from status sw to a
// stopped drive: the quick stop bit is cleared. A faulted drive is reset
// first.
func StopControlWord(sw, cw uint16) uint16 {
	if cia402.StateOf(sw) == cia402.StateFault {
		return faultReset(cw&^cia402.TransitionBits, cw)
	}
	return cw &^ (cia402.QuickStopBit | cia402.FaultResetBit)
}

// stopped reports quick stop active or switch-on disabled.
func stopped(sw uint16) bool {
	s := sw & cia402.StatusMask
	return s == cia402.QuickStopActive || s == cia402.SwitchOnDisabled
}

// Enable negotiates the drive into operation enabled. Each call sends at
// most one control word; the number of transitions depends on the state the
// drive starts from.
func (c *Controller) Enable() sdo.State {
	if s, ok := c.enter(OpEnable); !ok {
		return s
	}
	sw, cw := c.node.StatusWord(), c.node.ControlWord()
	if c.settle(sw&cia402.StatusMask == cia402.OperationEnabled, EnableControlWord(sw, cw)) {
		return c.finish()
	}
	return c.checkComState()
}

// Disable negotiates the drive into switch-on disabled.
func (c *Controller) Disable() sdo.State {
	if s, ok := c.enter(OpDisable); !ok {
		return s
	}
	sw, cw := c.node.StatusWord(), c.node.ControlWord()
	if c.settle(sw&cia402.StatusMask == cia402.SwitchOnDisabled, DisableControlWord(sw, cw)) {
		return c.finish()
	}
	return c.checkComState()
}

// Stop quick stops the drive. It is done in quick stop active or switch-on
// disabled.
func (c *Controller) Stop() sdo.State {
	if s, ok := c.enter(OpStop); !ok {
		return s
	}
	sw, cw := c.node.StatusWord(), c.node.ControlWord()
	if c.settle(stopped(sw), StopControlWord(sw, cw)) {
		return c.finish()
	}
	return c.checkComState()
}
