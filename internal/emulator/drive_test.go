// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package emulator

import (
	"testing"

	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const id = 1

func newDrive(t *testing.T, opts Options) *Drive {
	t.Helper()
	d, err := NewDrive(id, nil, opts)
	require.NoError(t, err)
	return d
}

// control sends cw and returns the answered status word.
func control(t *testing.T, d *Drive, cw uint16) uint16 {
	t.Helper()
	out := d.Process(protocol.NewControlWord(id, cw))
	require.Len(t, out, 1)
	require.Equal(t, protocol.CmdStatusWord, out[0].Command)
	sw, err := protocol.DecodeWord(out[0].Payload)
	require.NoError(t, err)
	return sw
}

func sdoWrite(t *testing.T, d *Drive, obj cia402.Object, data []byte) protocol.Message {
	t.Helper()
	out := d.Process(protocol.NewSDOWriteRequest(id, obj.Index, obj.SubIndex, data))
	require.Len(t, out, 1)
	return out[0]
}

func TestDrive_Transitions(t *testing.T) {
	tests := []struct {
		name string
		cws  []uint16
		want cia402.State
	}{
		{"shutdown", []uint16{0x06}, cia402.StateReadyToSwitchOn},
		{"switch on", []uint16{0x06, 0x07}, cia402.StateSwitchedOn},
		{"enable", []uint16{0x06, 0x07, 0x0F}, cia402.StateOperationEnabled},
		{"enable from ready", []uint16{0x06, 0x0F, 0x0F}, cia402.StateOperationEnabled},
		{"disable operation", []uint16{0x06, 0x07, 0x0F, 0x07}, cia402.StateSwitchedOn},
		{"quick stop", []uint16{0x06, 0x07, 0x0F, 0x0B}, cia402.StateQuickStopActive},
		{"quick stop recover", []uint16{0x06, 0x07, 0x0F, 0x0B, 0x0F}, cia402.StateOperationEnabled},
		{"quick stop from ready", []uint16{0x06, 0x02}, cia402.StateSwitchOnDisabled},
		{"disable voltage", []uint16{0x06, 0x07, 0x0F, 0x00}, cia402.StateSwitchOnDisabled},
		{"switch on needs ready", []uint16{0x07}, cia402.StateSwitchOnDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDrive(t, Options{})
			var sw uint16
			for _, cw := range tt.cws {
				sw = control(t, d, cw)
			}
			assert.Equal(t, tt.want, d.State())
			assert.Equal(t, tt.want, cia402.StateOf(sw))
			assert.Equal(t, uint32(sw), d.Dictionary().Get(cia402.ObjStatusWord))
		})
	}
}

func TestDrive_FaultReset(t *testing.T) {
	d := newDrive(t, Options{})
	control(t, d, 0x06)
	control(t, d, 0x07)
	control(t, d, 0x0F)

	out := d.InjectFault(0x2310)
	require.Len(t, out, 2)
	assert.Equal(t, protocol.CmdEmergency, out[0].Command)
	e, err := protocol.DecodeEmergency(out[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x2310), e.ErrorCode)
	assert.Equal(t, uint32(0x2310), d.Dictionary().Get(cia402.ObjErrorRegister))

	// Commands other than a fault reset edge are ignored.
	assert.Equal(t, cia402.StateFault, cia402.StateOf(control(t, d, 0x0F)))
	assert.Equal(t, cia402.StateSwitchOnDisabled, cia402.StateOf(control(t, d, 0x8F)))
	assert.Equal(t, uint32(0), d.Dictionary().Get(cia402.ObjErrorRegister))
}

func TestDrive_SDO(t *testing.T) {
	d := newDrive(t, Options{})

	resp := sdoWrite(t, d, cia402.ObjModesOfOperation, []byte{0x01})
	assert.Equal(t, protocol.NewSDOWriteResponse(id, 0x6060, 0), resp)
	assert.Equal(t, cia402.ModeProfilePosition, d.Mode())

	out := d.Process(protocol.NewSDOReadRequest(id, 0x6061, 0))
	require.Len(t, out, 1)
	assert.Equal(t, protocol.NewSDOReadResponse(id, 0x6061, 0, []byte{0x01}), out[0])

	resp = sdoWrite(t, d, cia402.ObjStatusWord, []byte{0, 0})
	require.Equal(t, protocol.CmdSDOAbort, resp.Command)
	_, _, code, err := protocol.DecodeSDOAbort(resp.Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.AbortReadOnly, code)

	// The control word object drives the state machine as well.
	sdoWrite(t, d, cia402.ObjControlWord, []byte{0x06, 0x00})
	assert.Equal(t, cia402.StateReadyToSwitchOn, d.State())
}

func TestDrive_ProfilePositionMove(t *testing.T) {
	d := newDrive(t, Options{MoveTicks: 4})
	sdoWrite(t, d, cia402.ObjModesOfOperation, []byte{0x01})
	control(t, d, 0x06)
	control(t, d, 0x07)
	control(t, d, 0x0F)

	sdoWrite(t, d, cia402.ObjTargetPosition, []byte{0xE8, 0x03, 0x00, 0x00})
	sw := control(t, d, 0x1F)
	assert.NotZero(t, sw&cia402.Acknowledge, "start edge is acknowledged")
	assert.Zero(t, sw&cia402.TargetReached)

	sw = control(t, d, 0x0F)
	assert.Zero(t, sw&cia402.Acknowledge, "clearing start releases acknowledge")

	var unsolicited []protocol.Message
	for i := 0; i < 4; i++ {
		unsolicited = append(unsolicited, d.Tick()...)
	}
	assert.Equal(t, int32(1000), d.Position())
	require.Len(t, unsolicited, 1, "one status change when the target is reached")
	sw, err := protocol.DecodeWord(unsolicited[0].Payload)
	require.NoError(t, err)
	assert.NotZero(t, sw&cia402.TargetReached)
	assert.Empty(t, d.Tick(), "no message without change")

	// Relative move adds to the actual position.
	sdoWrite(t, d, cia402.ObjTargetPosition, []byte{0x64, 0x00, 0x00, 0x00})
	control(t, d, 0x5F)
	for i := 0; i < 4; i++ {
		d.Tick()
	}
	assert.Equal(t, int32(1100), d.Position())
}

func TestDrive_Homing(t *testing.T) {
	d := newDrive(t, Options{MoveTicks: 1, HomingTicks: 2})
	sdoWrite(t, d, cia402.ObjModesOfOperation, []byte{0x01})
	control(t, d, 0x06)
	control(t, d, 0x07)
	control(t, d, 0x0F)
	sdoWrite(t, d, cia402.ObjTargetPosition, []byte{0x10, 0x00, 0x00, 0x00})
	control(t, d, 0x1F)
	d.Tick()
	require.Equal(t, int32(16), d.Position())

	sdoWrite(t, d, cia402.ObjModesOfOperation, []byte{0x06})
	control(t, d, 0x0F)
	sw := control(t, d, 0x1F)
	assert.NotEqual(t, cia402.HomingFinished, sw&cia402.HomingFinished)
	control(t, d, 0x0F)
	d.Tick()
	d.Tick()
	assert.Equal(t, cia402.HomingFinished, d.StatusWord()&cia402.HomingFinished)
	assert.Equal(t, int32(0), d.Position())
}

func TestDrive_ProfileVelocity(t *testing.T) {
	d := newDrive(t, Options{})
	sdoWrite(t, d, cia402.ObjModesOfOperation, []byte{0x03})
	sdoWrite(t, d, cia402.ObjTargetVelocity, []byte{0x0A, 0x00, 0x00, 0x00})
	control(t, d, 0x06)
	control(t, d, 0x07)
	control(t, d, 0x0F)
	d.Tick()
	d.Tick()
	assert.Equal(t, uint32(10), d.Dictionary().Get(cia402.ObjVelocityActual))
	assert.Equal(t, int32(20), d.Position())
}

func TestDrive_ResetRequest(t *testing.T) {
	d := newDrive(t, Options{})
	control(t, d, 0x06)

	out := d.Process(protocol.NewResetRequest(id))
	require.Len(t, out, 1)
	assert.Equal(t, protocol.NewBoot(id), out[0])
	assert.Equal(t, cia402.StateSwitchOnDisabled, d.State())
	assert.Nil(t, d.Process(protocol.NewBoot(id)), "a boot notification is not a request")
}
