// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package emulator simulates CiA-402 drives speaking the framed drive
// protocol.
package emulator

import (
	"log/slog"

	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/internal/emulator/model"
	"github.com/ffutop/mcdrive/internal/emulator/persistence"
	"github.com/ffutop/mcdrive/protocol"
)

// Status word values reported per state. Bit 0x0200 is "remote", bit 0x0010
// "voltage enabled".
var stateWords = map[cia402.State]uint16{
	cia402.StateSwitchOnDisabled: 0x0250,
	cia402.StateReadyToSwitchOn:  0x0231,
	cia402.StateSwitchedOn:       0x0233,
	cia402.StateOperationEnabled: 0x0237,
	cia402.StateQuickStopActive:  0x0217,
	cia402.StateFault:            0x0218,
}

// Options tune the simulated motion.
type Options struct {
	// MoveTicks is the number of Tick calls a positioning move takes. Zero
	// reaches the target at the start edge.
	MoveTicks int
	// HomingTicks is the number of Tick calls a homing run takes.
	HomingTicks int
}

// Drive is one simulated node. It is not safe for concurrent use; Bus
// serializes access per node.
type Drive struct {
	id    byte
	dict  *model.Dictionary
	store persistence.Storage
	opts  Options

	state    cia402.State
	cw       uint16
	reported uint16

	ack     bool
	reached bool

	startPos int32
	target   int32
	moveLeft int
	homeLeft int
	homing   bool
}

// NewDrive creates a drive in switch-on disabled. store may be nil.
func NewDrive(id byte, store persistence.Storage, opts Options) (*Drive, error) {
	if store == nil {
		store = persistence.NewMemoryStorage()
	}
	dict, err := store.Load()
	if err != nil {
		return nil, err
	}
	d := &Drive{
		id:    id,
		dict:  dict,
		store: store,
		opts:  opts,
		state: cia402.StateSwitchOnDisabled,
	}
	d.sync()
	d.reported = d.StatusWord()
	return d, nil
}

func (d *Drive) NodeID() byte { return d.id }

// Dictionary exposes the object values.
func (d *Drive) Dictionary() *model.Dictionary { return d.dict }

func (d *Drive) State() cia402.State { return d.state }

func (d *Drive) ControlWord() uint16 { return d.cw }

func (d *Drive) Mode() cia402.Mode {
	return cia402.Mode(int8(d.dict.Get(cia402.ObjModesDisplay)))
}

func (d *Drive) Position() int32 {
	return int32(d.dict.Get(cia402.ObjPositionActual))
}

// StatusWord composes the current status word.
func (d *Drive) StatusWord() uint16 {
	sw := stateWords[d.state]
	if d.reached {
		sw |= cia402.TargetReached
	}
	if d.ack {
		sw |= cia402.Acknowledge
	}
	return sw
}

// sync mirrors the control and status word into the dictionary.
func (d *Drive) sync() {
	d.dict.Set(cia402.ObjControlWord, uint32(d.cw))
	d.dict.Set(cia402.ObjStatusWord, uint32(d.StatusWord()))
}

// Process answers one host message. Messages that need no answer return nil.
func (d *Drive) Process(msg protocol.Message) []protocol.Message {
	switch msg.Command {
	case protocol.CmdSDORead:
		return d.sdoRead(msg)
	case protocol.CmdSDOWrite:
		return d.sdoWrite(msg)
	case protocol.CmdControlWord:
		cw, err := protocol.DecodeWord(msg.Payload)
		if err != nil {
			slog.Debug("emulator: malformed control word", "node", d.id, "err", err)
			return nil
		}
		d.applyControlWord(cw)
		return []protocol.Message{d.statusMessage()}
	case protocol.CmdStatusWord:
		return []protocol.Message{d.statusMessage()}
	case protocol.CmdBoot:
		if len(msg.Payload) != 0 {
			return nil
		}
		d.reset()
		return []protocol.Message{protocol.NewBoot(d.id)}
	}
	return nil
}

func (d *Drive) statusMessage() protocol.Message {
	d.reported = d.StatusWord()
	return protocol.NewStatusWord(d.id, d.reported)
}

func (d *Drive) sdoRead(msg protocol.Message) []protocol.Message {
	index, sub, _, err := protocol.DecodeSDO(msg.Payload)
	if err != nil {
		return nil
	}
	obj := cia402.Object{Index: index, SubIndex: sub}
	data, err := d.dict.Read(obj)
	if err != nil {
		return []protocol.Message{protocol.NewSDOAbort(d.id, index, sub, model.AbortCode(err))}
	}
	return []protocol.Message{protocol.NewSDOReadResponse(d.id, index, sub, data)}
}

func (d *Drive) sdoWrite(msg protocol.Message) []protocol.Message {
	index, sub, data, err := protocol.DecodeSDO(msg.Payload)
	if err != nil {
		return nil
	}
	obj := cia402.Object{Index: index, SubIndex: sub}
	if err := d.dict.Write(obj, data); err != nil {
		return []protocol.Message{protocol.NewSDOAbort(d.id, index, sub, model.AbortCode(err))}
	}

	switch obj {
	case cia402.ObjModesOfOperation:
		d.dict.Set(cia402.ObjModesDisplay, d.dict.Get(obj))
		d.store.OnWrite(cia402.ObjModesDisplay)
	case cia402.ObjControlWord:
		d.applyControlWord(uint16(d.dict.Get(obj)))
	}
	d.store.OnWrite(obj)
	return []protocol.Message{protocol.NewSDOWriteResponse(d.id, index, sub)}
}

// applyControlWord runs the device state machine for one control word.
func (d *Drive) applyControlWord(cw uint16) {
	prev := d.cw
	d.cw = cw
	defer d.sync()

	if d.state == cia402.StateFault {
		if cw&cia402.FaultResetBit != 0 && prev&cia402.FaultResetBit == 0 {
			d.dict.Set(cia402.ObjErrorRegister, 0)
			d.setState(cia402.StateSwitchOnDisabled)
		}
		return
	}

	switch {
	case cw&0x0002 == 0: // disable voltage
		d.setState(cia402.StateSwitchOnDisabled)
	case cw&0x0006 == 0x0002: // quick stop
		switch d.state {
		case cia402.StateOperationEnabled:
			d.setState(cia402.StateQuickStopActive)
		case cia402.StateReadyToSwitchOn, cia402.StateSwitchedOn:
			d.setState(cia402.StateSwitchOnDisabled)
		}
	case cw&0x0087 == cia402.CommandShutdown:
		switch d.state {
		case cia402.StateSwitchOnDisabled, cia402.StateSwitchedOn, cia402.StateOperationEnabled:
			d.setState(cia402.StateReadyToSwitchOn)
		}
	case cw&0x008F == cia402.CommandSwitchOn:
		switch d.state {
		case cia402.StateReadyToSwitchOn, cia402.StateOperationEnabled:
			d.setState(cia402.StateSwitchedOn)
		}
	case cw&0x008F == cia402.CommandEnableOperation:
		switch d.state {
		case cia402.StateReadyToSwitchOn:
			d.setState(cia402.StateSwitchedOn)
		case cia402.StateSwitchedOn, cia402.StateQuickStopActive:
			d.setState(cia402.StateOperationEnabled)
		}
	}

	if d.state == cia402.StateOperationEnabled {
		d.motionEdges(prev, cw)
	}
}

func (d *Drive) setState(s cia402.State) {
	if s == d.state {
		return
	}
	slog.Debug("emulator: state change", "node", d.id, "from", d.state, "to", s)
	if s != cia402.StateOperationEnabled {
		d.moveLeft = 0
		d.homing = false
		d.dict.Set(cia402.ObjVelocityActual, 0)
	}
	d.state = s
}

func (d *Drive) motionEdges(prev, cw uint16) {
	rising := cw&cia402.StartBit != 0 && prev&cia402.StartBit == 0
	falling := cw&cia402.StartBit == 0 && prev&cia402.StartBit != 0

	switch d.Mode() {
	case cia402.ModeProfilePosition:
		if rising {
			target := int32(d.dict.Get(cia402.ObjTargetPosition))
			if cw&cia402.RelativeBit != 0 {
				target += d.Position()
			}
			d.startPos = d.Position()
			d.target = target
			d.ack = true
			d.reached = false
			d.moveLeft = d.opts.MoveTicks
			if d.moveLeft == 0 {
				d.arrive()
			}
		}
		if falling {
			d.ack = false
		}
	case cia402.ModeHoming:
		if rising {
			d.ack = false
			d.reached = false
			d.homing = true
			d.homeLeft = d.opts.HomingTicks
			if d.homeLeft == 0 {
				d.homed()
			}
		}
	case cia402.ModeProfileVelocity:
		d.reached = true
	}
}

func (d *Drive) arrive() {
	d.dict.Set(cia402.ObjPositionActual, uint32(d.target))
	d.reached = true
}

func (d *Drive) homed() {
	d.homing = false
	d.dict.Set(cia402.ObjPositionActual, 0)
	d.reached = true
	d.ack = true
}

// Tick advances the motion by one step and returns an unsolicited status
// word if the status word changed since it was last reported.
func (d *Drive) Tick() []protocol.Message {
	if d.state == cia402.StateOperationEnabled {
		switch d.Mode() {
		case cia402.ModeProfilePosition:
			if d.moveLeft > 0 {
				d.moveLeft--
				if d.moveLeft == 0 {
					d.arrive()
				} else {
					done := d.opts.MoveTicks - d.moveLeft
					pos := d.startPos + int32(int64(d.target-d.startPos)*int64(done)/int64(d.opts.MoveTicks))
					d.dict.Set(cia402.ObjPositionActual, uint32(pos))
				}
			}
		case cia402.ModeProfileVelocity:
			v := d.dict.Get(cia402.ObjTargetVelocity)
			d.dict.Set(cia402.ObjVelocityActual, v)
			d.dict.Set(cia402.ObjPositionActual, uint32(d.Position()+int32(v)))
			d.reached = true
		case cia402.ModeHoming:
			if d.homing && d.homeLeft > 0 {
				d.homeLeft--
				if d.homeLeft == 0 {
					d.homed()
				}
			}
		}
	}
	d.sync()

	if sw := d.StatusWord(); sw != d.reported {
		return []protocol.Message{d.statusMessage()}
	}
	return nil
}

// InjectFault puts the drive into fault and returns the emergency and the
// status word it announces.
func (d *Drive) InjectFault(code uint16) []protocol.Message {
	d.dict.Set(cia402.ObjErrorRegister, uint32(code))
	d.ack = false
	d.reached = false
	d.setState(cia402.StateFault)
	d.sync()
	slog.Info("emulator: fault injected", "node", d.id, "code", code)
	return []protocol.Message{
		protocol.NewEmergency(d.id, protocol.Emergency{ErrorCode: code, ErrorRegister: 0x01}),
		d.statusMessage(),
	}
}

func (d *Drive) reset() {
	d.cw = 0
	d.ack = false
	d.reached = false
	d.dict.Set(cia402.ObjErrorRegister, 0)
	d.setState(cia402.StateSwitchOnDisabled)
	d.sync()
	d.reported = d.StatusWord()
}

// Close persists the dictionary and closes the storage.
func (d *Drive) Close() error {
	if err := d.store.Save(d.dict); err != nil {
		d.store.Close()
		return err
	}
	return d.store.Close()
}
