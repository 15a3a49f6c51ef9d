// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

import (
	"testing"
)

func TestCRC(t *testing.T) {
	var crc CRC
	crc.Reset()
	crc.PushBytes([]byte{0x00})

	if crc.Value() != 0x55 {
		t.Fatalf("crc expected %#02x, actual %#02x", 0x55, crc.Value())
	}
}

func TestCRC_Residue(t *testing.T) {
	frame := []byte{0x07, 0x01, 0x01, 0x41, 0x60, 0x00}

	var crc CRC
	sum := crc.Reset().PushBytes(frame).Value()
	if got := crc.PushByte(sum).Value(); got != 0 {
		t.Fatalf("residue expected 0, actual %#02x", got)
	}
}

func TestCRC_ByteWiseMatchesBulk(t *testing.T) {
	frame := []byte{0x0B, 0x01, 0x02, 0x7A, 0x60, 0x00, 0xE8, 0x03, 0x00, 0x00}

	var bulk, single CRC
	bulk.Reset().PushBytes(frame)
	single.Reset()
	for _, b := range frame {
		single.PushByte(b)
	}
	if bulk.Value() != single.Value() {
		t.Fatalf("bulk %#02x != byte-wise %#02x", bulk.Value(), single.Value())
	}
}
