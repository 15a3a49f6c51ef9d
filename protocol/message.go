// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package protocol

import (
	"errors"
	"fmt"

	"github.com/ffutop/mcdrive/protocol/crc"
)

var (
	ErrPrefix = errors.New("protocol: bad frame prefix")
	ErrSuffix = errors.New("protocol: bad frame suffix")
	ErrCRC    = errors.New("protocol: crc mismatch")
)

type InvalidLengthError struct {
	Length byte
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("protocol: invalid length received: %d", e.Length)
}

// Message is a decoded frame.
type Message struct {
	NodeID  byte
	Command Command
	Payload []byte
}

func (m Message) String() string {
	return fmt.Sprintf("node %d %v % X", m.NodeID, m.Command, m.Payload)
}

// Encode encodes the message into a frame:
//
//	Prefix  : 1 byte
//	Length  : 1 byte, counts length, node, command, payload and crc
//	Node    : 1 byte
//	Command : 1 byte
//	Payload : 0 up to 58 bytes
//	CRC     : 1 byte over length..payload
//	Suffix  : 1 byte
func (m *Message) Encode() (raw []byte, err error) {
	size := len(m.Payload) + MinSize
	if size > MaxSize {
		err = fmt.Errorf("protocol: frame size '%v' must not be bigger than '%v'", size, MaxSize)
		return
	}
	raw = make([]byte, size)

	raw[0] = Prefix
	raw[1] = byte(size - 2)
	raw[2] = m.NodeID
	raw[3] = byte(m.Command)
	copy(raw[4:], m.Payload)

	var crc crc.CRC
	raw[size-2] = crc.Reset().PushBytes(raw[1 : size-2]).Value()
	raw[size-1] = Suffix
	return
}

// Decode verifies a raw frame and returns its message. The payload is copied.
func Decode(raw []byte) (*Message, error) {
	length := len(raw)
	if length < MinSize {
		return nil, fmt.Errorf("protocol: frame length '%v' does not meet minimum '%v'", length, MinSize)
	}
	if raw[0] != Prefix {
		return nil, ErrPrefix
	}
	if raw[length-1] != Suffix {
		return nil, ErrSuffix
	}
	if int(raw[1]) != length-2 {
		return nil, &InvalidLengthError{Length: raw[1]}
	}

	var crc crc.CRC
	crc.Reset().PushBytes(raw[1 : length-2])
	if checksum := raw[length-2]; checksum != crc.Value() {
		return nil, fmt.Errorf("%w: frame carries '%#02x', expected '%#02x'", ErrCRC, checksum, crc.Value())
	}

	msg := &Message{
		NodeID:  raw[2],
		Command: Command(raw[3]),
	}
	if payload := raw[4 : length-2]; len(payload) > 0 {
		msg.Payload = make([]byte, len(payload))
		copy(msg.Payload, payload)
	}
	return msg, nil
}
