// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package protocol

// Abort codes carried by CmdSDOAbort.
const (
	AbortTimeout          uint32 = 0x05040000
	AbortCommand          uint32 = 0x05040001
	AbortUnsupported      uint32 = 0x06010000
	AbortWriteOnly        uint32 = 0x06010001
	AbortReadOnly         uint32 = 0x06010002
	AbortNoObject         uint32 = 0x06020000
	AbortGeneralParameter uint32 = 0x06040043
	AbortHardware         uint32 = 0x06060000
	AbortLengthMismatch   uint32 = 0x06070010
	AbortLengthTooHigh    uint32 = 0x06070012
	AbortLengthTooLow     uint32 = 0x06070013
	AbortNoSubIndex       uint32 = 0x06090011
	AbortValueRange       uint32 = 0x06090030
	AbortGeneral          uint32 = 0x08000000
	AbortDataStore        uint32 = 0x08000020
	AbortDataStoreLocal   uint32 = 0x08000021
	AbortDataStoreState   uint32 = 0x08000022
	AbortObjectDictionary uint32 = 0x08000023
)

var abortTexts = map[uint32]string{
	AbortTimeout:          "protocol timed out",
	AbortCommand:          "command specifier not valid or unknown",
	AbortUnsupported:      "unsupported access",
	AbortWriteOnly:        "tried to read a write-only object",
	AbortReadOnly:         "tried to write a read-only object",
	AbortNoObject:         "object does not exist",
	AbortGeneralParameter: "general parameter incompatibility",
	AbortHardware:         "access failed due to hardware error",
	AbortLengthMismatch:   "data type and length do not match",
	AbortLengthTooHigh:    "data type problem, length too high",
	AbortLengthTooLow:     "data type problem, length too low",
	AbortNoSubIndex:       "sub index does not exist",
	AbortValueRange:       "value range exceeded",
	AbortGeneral:          "general error",
	AbortDataStore:        "data could not be transferred or stored",
	AbortDataStoreLocal:   "data could not be transferred due to local control",
	AbortDataStoreState:   "data could not be transferred due to device state",
	AbortObjectDictionary: "object dictionary does not exist",
}

// AbortCodeText describes an abort code.
func AbortCodeText(code uint32) string {
	if text, ok := abortTexts[code]; ok {
		return text
	}
	return "unknown error"
}
