// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ffutop/mcdrive/protocol/crc"
	"github.com/google/go-cmp/cmp"
)

func TestMessage_Encode(t *testing.T) {
	msg := NewSDOReadRequest(0x01, 0x6041, 0x00)
	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Prefix, Len, Node, Cmd, Index(LE), Sub
	head := []byte{'S', 0x07, 0x01, 0x01, 0x41, 0x60, 0x00}
	if !bytes.Equal(raw[:len(head)], head) {
		t.Errorf("Header mismatch.\nWant: % X\nGot:  % X", head, raw[:len(head)])
	}
	if len(raw) != 9 {
		t.Fatalf("frame length = %d, want 9", len(raw))
	}
	if raw[len(raw)-1] != Suffix {
		t.Errorf("suffix = %#02x, want %#02x", raw[len(raw)-1], Suffix)
	}

	var c crc.CRC
	if residue := c.Reset().PushBytes(raw[1 : len(raw)-1]).Value(); residue != 0 {
		t.Errorf("crc residue = %#02x, want 0", residue)
	}
}

func TestMessage_EncodeWriteLength(t *testing.T) {
	data, _ := EncodeValue(1000, 4)
	msg := NewSDOWriteRequest(0x01, 0x607A, 0x00, data)
	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if raw[1] != 7+4 {
		t.Errorf("length byte = %d, want %d", raw[1], 7+4)
	}
}

func TestMessage_EncodeTooLarge(t *testing.T) {
	msg := Message{NodeID: 1, Command: CmdTraceLog, Payload: make([]byte, MaxPayload+1)}
	if _, err := msg.Encode(); err == nil {
		t.Error("Expected size error, got nil")
	}
}

func TestDecode(t *testing.T) {
	good, _ := (&Message{NodeID: 3, Command: CmdStatusWord, Payload: []byte{0x27, 0x04}}).Encode()

	corrupt := func(i int, b byte) []byte {
		raw := append([]byte(nil), good...)
		raw[i] = b
		return raw
	}

	tests := []struct {
		name    string
		raw     []byte
		want    *Message
		wantErr error
	}{
		{"Valid", good, &Message{NodeID: 3, Command: CmdStatusWord, Payload: []byte{0x27, 0x04}}, nil},
		{"Short", good[:4], nil, nil},
		{"BadPrefix", corrupt(0, 'X'), nil, ErrPrefix},
		{"BadSuffix", corrupt(len(good)-1, 'X'), nil, ErrSuffix},
		{"BadLength", corrupt(1, 0x09), nil, nil},
		{"BadCRC", corrupt(len(good)-2, good[len(good)-2]^0xFF), nil, ErrCRC},
		{"BadPayload", corrupt(4, 0x28), nil, ErrCRC},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.raw)
			if tt.want == nil {
				if err == nil {
					t.Fatalf("Decode() expected error, got %v", got)
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_InvalidLengthError(t *testing.T) {
	raw, _ := (&Message{NodeID: 1, Command: CmdBoot}).Encode()
	raw[1] = 0x10

	_, err := Decode(raw)
	var lengthErr *InvalidLengthError
	if !errors.As(err, &lengthErr) {
		t.Fatalf("Decode() error = %v, want InvalidLengthError", err)
	}
	if lengthErr.Length != 0x10 {
		t.Errorf("Length = %d, want 16", lengthErr.Length)
	}
}

func TestCommand_String(t *testing.T) {
	if got := CmdSDOWrite.String(); got != "sdo-write" {
		t.Errorf("String() = %q", got)
	}
	if got := Command(0x42).String(); got != "command(0x42)" {
		t.Errorf("String() = %q", got)
	}
	if !CmdSDOAbort.IsSDO() || CmdStatusWord.IsSDO() {
		t.Error("IsSDO() classification is wrong")
	}
}
