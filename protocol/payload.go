// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package protocol

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/exp/slices"
)

// sdoHeaderSize is index(2) and sub index(1).
const sdoHeaderSize = 3

// ValueSizes are the data widths an expedited object access may carry.
var ValueSizes = []int{1, 2, 4}

// EncodeValue packs the low size bytes of value little-endian.
func EncodeValue(value uint32, size int) ([]byte, error) {
	if !slices.Contains(ValueSizes, size) {
		return nil, fmt.Errorf("protocol: unsupported value size %d", size)
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	return buf[:size], nil
}

// DecodeValue assembles a 1, 2 or 4 byte little-endian value.
func DecodeValue(data []byte) (uint32, error) {
	switch len(data) {
	case 1:
		return uint32(data[0]), nil
	case 2:
		return uint32(binary.LittleEndian.Uint16(data)), nil
	case 4:
		return binary.LittleEndian.Uint32(data), nil
	}
	return 0, fmt.Errorf("protocol: unsupported value size %d", len(data))
}

// EncodeSDO builds index(2, LE) | sub index(1) | data.
func EncodeSDO(index uint16, subIndex uint8, data []byte) []byte {
	payload := make([]byte, sdoHeaderSize+len(data))
	binary.LittleEndian.PutUint16(payload, index)
	payload[2] = subIndex
	copy(payload[sdoHeaderSize:], data)
	return payload
}

// DecodeSDO splits an SDO payload. data aliases payload.
func DecodeSDO(payload []byte) (index uint16, subIndex uint8, data []byte, err error) {
	if len(payload) < sdoHeaderSize {
		err = fmt.Errorf("protocol: sdo payload of %d bytes is too short", len(payload))
		return
	}
	if len(payload) > sdoHeaderSize+4 {
		err = fmt.Errorf("protocol: sdo payload of %d bytes is too long", len(payload))
		return
	}
	index = binary.LittleEndian.Uint16(payload)
	subIndex = payload[2]
	data = payload[sdoHeaderSize:]
	return
}

// DecodeSDOAbort returns the object and abort code of an abort payload.
func DecodeSDOAbort(payload []byte) (index uint16, subIndex uint8, code uint32, err error) {
	if len(payload) != sdoHeaderSize+4 {
		err = fmt.Errorf("protocol: sdo abort payload of %d bytes, want %d", len(payload), sdoHeaderSize+4)
		return
	}
	index = binary.LittleEndian.Uint16(payload)
	subIndex = payload[2]
	code = binary.LittleEndian.Uint32(payload[sdoHeaderSize:])
	return
}

// DecodeWord reads the 16 bit control or status word payload.
func DecodeWord(payload []byte) (uint16, error) {
	if len(payload) != 2 {
		return 0, fmt.Errorf("protocol: word payload of %d bytes, want 2", len(payload))
	}
	return binary.LittleEndian.Uint16(payload), nil
}

func encodeWord(w uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, w)
}

// Emergency is the content of an emergency notification.
type Emergency struct {
	ErrorCode     uint16
	ErrorRegister byte
	Data          []byte
}

func (e Emergency) String() string {
	return fmt.Sprintf("emcy 0x%04X register 0x%02X", e.ErrorCode, e.ErrorRegister)
}

// DecodeEmergency parses error code(2, LE) | error register(1) | manufacturer data.
func DecodeEmergency(payload []byte) (Emergency, error) {
	if len(payload) < 3 {
		return Emergency{}, fmt.Errorf("protocol: emergency payload of %d bytes is too short", len(payload))
	}
	e := Emergency{
		ErrorCode:     binary.LittleEndian.Uint16(payload),
		ErrorRegister: payload[2],
	}
	if len(payload) > 3 {
		e.Data = append([]byte(nil), payload[3:]...)
	}
	return e, nil
}

func NewSDOReadRequest(nodeID byte, index uint16, subIndex uint8) Message {
	return Message{NodeID: nodeID, Command: CmdSDORead, Payload: EncodeSDO(index, subIndex, nil)}
}

func NewSDOWriteRequest(nodeID byte, index uint16, subIndex uint8, data []byte) Message {
	return Message{NodeID: nodeID, Command: CmdSDOWrite, Payload: EncodeSDO(index, subIndex, data)}
}

func NewSDOReadResponse(nodeID byte, index uint16, subIndex uint8, data []byte) Message {
	return Message{NodeID: nodeID, Command: CmdSDORead, Payload: EncodeSDO(index, subIndex, data)}
}

// NewSDOWriteResponse echoes the written object without data.
func NewSDOWriteResponse(nodeID byte, index uint16, subIndex uint8) Message {
	return Message{NodeID: nodeID, Command: CmdSDOWrite, Payload: EncodeSDO(index, subIndex, nil)}
}

func NewSDOAbort(nodeID byte, index uint16, subIndex uint8, code uint32) Message {
	return Message{
		NodeID:  nodeID,
		Command: CmdSDOAbort,
		Payload: EncodeSDO(index, subIndex, binary.LittleEndian.AppendUint32(nil, code)),
	}
}

func NewControlWord(nodeID byte, cw uint16) Message {
	return Message{NodeID: nodeID, Command: CmdControlWord, Payload: encodeWord(cw)}
}

// NewStatusWordRequest asks the drive for its status word.
func NewStatusWordRequest(nodeID byte) Message {
	return Message{NodeID: nodeID, Command: CmdStatusWord}
}

func NewStatusWord(nodeID byte, sw uint16) Message {
	return Message{NodeID: nodeID, Command: CmdStatusWord, Payload: encodeWord(sw)}
}

func NewResetRequest(nodeID byte) Message {
	return Message{NodeID: nodeID, Command: CmdBoot}
}

func NewBoot(nodeID byte) Message {
	return Message{NodeID: nodeID, Command: CmdBoot, Payload: []byte{0x00}}
}

func NewEmergency(nodeID byte, e Emergency) Message {
	payload := binary.LittleEndian.AppendUint16(nil, e.ErrorCode)
	payload = append(payload, e.ErrorRegister)
	payload = append(payload, e.Data...)
	return Message{NodeID: nodeID, Command: CmdEmergency, Payload: payload}
}
