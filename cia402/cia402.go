// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package cia402 holds the device profile constants of the drive state
// machine. All values are fixed by the device protocol.
package cia402

import "fmt"

// Status word patterns, compared after masking with StatusMask.
const (
	StatusMask uint16 = 0x006F

	SwitchOnDisabled uint16 = 0x0040
	ReadyToSwitchOn  uint16 = 0x0021
	SwitchedOn       uint16 = 0x0023
	OperationEnabled uint16 = 0x0027
	QuickStopActive  uint16 = 0x0007
	Fault            uint16 = 0x0008
)

// Status word bits.
const (
	FaultBit uint16 = 0x0008
	// TargetReached is in-position in profile position mode and target
	// velocity reached in profile velocity mode.
	TargetReached uint16 = 0x0400
	// Acknowledge is the set-point acknowledge in profile position mode and
	// homing attained in homing mode.
	Acknowledge    uint16 = 0x1000
	HomingFinished uint16 = TargetReached | Acknowledge
)

// Control word bits.
const (
	ControlMask    uint16 = 0x000F
	QuickStopBit   uint16 = 0x0004
	StartBit       uint16 = 0x0010
	ImmediateBit   uint16 = 0x0020
	RelativeBit    uint16 = 0x0040
	FaultResetBit  uint16 = 0x0080
	HaltBit        uint16 = 0x0100
	ChangeOnSetBit uint16 = 0x0200
	MotionBits     uint16 = StartBit | ImmediateBit | RelativeBit
	TransitionBits uint16 = ControlMask | FaultResetBit
)

// Control word commands in the low nibble.
const (
	CommandDisableVoltage  uint16 = 0x0000
	CommandQuickStop       uint16 = 0x0002
	CommandShutdown        uint16 = 0x0006
	CommandSwitchOn        uint16 = 0x0007
	CommandEnableOperation uint16 = 0x000F
)

// State is the decoded drive state.
type State int

const (
	StateUnknown State = iota
	StateSwitchOnDisabled
	StateReadyToSwitchOn
	StateSwitchedOn
	StateOperationEnabled
	StateQuickStopActive
	StateFault
)

var stateNames = [...]string{
	StateUnknown:          "unknown",
	StateSwitchOnDisabled: "switch-on-disabled",
	StateReadyToSwitchOn:  "ready-to-switch-on",
	StateSwitchedOn:       "switched-on",
	StateOperationEnabled: "operation-enabled",
	StateQuickStopActive:  "quick-stop-active",
	StateFault:            "fault",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// StateOf decodes a status word.
func StateOf(sw uint16) State {
	switch sw & StatusMask {
	case SwitchOnDisabled:
		return StateSwitchOnDisabled
	case ReadyToSwitchOn:
		return StateReadyToSwitchOn
	case SwitchedOn:
		return StateSwitchedOn
	case OperationEnabled:
		return StateOperationEnabled
	case QuickStopActive:
		return StateQuickStopActive
	}
	if sw&FaultBit != 0 {
		return StateFault
	}
	return StateUnknown
}

// Mode is the operating mode of the drive.
type Mode int8

const (
	ModeNone            Mode = 0
	ModeProfilePosition Mode = 1
	ModeProfileVelocity Mode = 3
	ModeHoming          Mode = 6
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeProfilePosition:
		return "profile-position"
	case ModeProfileVelocity:
		return "profile-velocity"
	case ModeHoming:
		return "homing"
	}
	return fmt.Sprintf("mode(%d)", int8(m))
}

// Object addresses a drive parameter.
type Object struct {
	Index    uint16
	SubIndex uint8
}

func (o Object) String() string {
	return fmt.Sprintf("0x%04X.%02X", o.Index, o.SubIndex)
}

// Compare orders objects by index, then sub index.
func (o Object) Compare(other Object) int {
	switch {
	case o.Index < other.Index:
		return -1
	case o.Index > other.Index:
		return 1
	case o.SubIndex < other.SubIndex:
		return -1
	case o.SubIndex > other.SubIndex:
		return 1
	}
	return 0
}

var (
	ObjControlWord         = Object{0x6040, 0x00}
	ObjStatusWord          = Object{0x6041, 0x00}
	ObjModesOfOperation    = Object{0x6060, 0x00}
	ObjModesDisplay        = Object{0x6061, 0x00}
	ObjPositionActual      = Object{0x6064, 0x00}
	ObjVelocityActual      = Object{0x606C, 0x00}
	ObjTargetPosition      = Object{0x607A, 0x00}
	ObjProfileVelocity     = Object{0x6081, 0x00}
	ObjProfileAcceleration = Object{0x6083, 0x00}
	ObjProfileDeceleration = Object{0x6084, 0x00}
	ObjMotionProfileType   = Object{0x6086, 0x00}
	ObjHomingMethod        = Object{0x6098, 0x00}
	ObjTargetVelocity      = Object{0x60FF, 0x00}
	ObjErrorRegister       = Object{0x2320, 0x00}
	ObjMotorTemperature    = Object{0x2326, 0x03}
)
