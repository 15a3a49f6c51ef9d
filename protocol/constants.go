// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package protocol

import "fmt"

const (
	Prefix byte = 'S'
	Suffix byte = 'E'

	// MinSize is a frame without payload: prefix, length, node, command, crc, suffix.
	MinSize = 6
	MaxSize = 64

	// MaxPayload is the largest payload that fits into MaxSize.
	MaxPayload = MaxSize - MinSize
)

// Command is the command byte of a frame.
type Command byte

const (
	// CmdBoot is the boot notification of a drive. Sent by the host without
	// payload it requests a node reset.
	CmdBoot        Command = 0x00
	CmdSDORead     Command = 0x01
	CmdSDOWrite    Command = 0x02
	CmdSDOAbort    Command = 0x03
	CmdControlWord Command = 0x04
	CmdStatusWord  Command = 0x05
	CmdTraceLog    Command = 0x06
	CmdEmergency   Command = 0x07
)

const lastKnownCommand = CmdEmergency

var commandNames = [...]string{
	CmdBoot:        "boot",
	CmdSDORead:     "sdo-read",
	CmdSDOWrite:    "sdo-write",
	CmdSDOAbort:    "sdo-abort",
	CmdControlWord: "control-word",
	CmdStatusWord:  "status-word",
	CmdTraceLog:    "trace-log",
	CmdEmergency:   "emergency",
}

func (c Command) String() string {
	if c <= lastKnownCommand {
		return commandNames[c]
	}
	return fmt.Sprintf("command(0x%02X)", byte(c))
}

// IsSDO reports whether c belongs to the parameter access channel.
func (c Command) IsSDO() bool {
	return c == CmdSDORead || c == CmdSDOWrite || c == CmdSDOAbort
}
