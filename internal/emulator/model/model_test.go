// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"errors"
	"testing"

	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/protocol"
	"github.com/google/go-cmp/cmp"
)

func TestEntriesSorted(t *testing.T) {
	for i := 1; i < len(Entries); i++ {
		if Entries[i-1].Object.Compare(Entries[i].Object) >= 0 {
			t.Fatalf("entries not sorted at %d: %s >= %s", i, Entries[i-1].Object, Entries[i].Object)
		}
	}
}

func TestLookup(t *testing.T) {
	for i, e := range Entries {
		got, slot, ok := Lookup(e.Object)
		if !ok || slot != i || got != e {
			t.Errorf("Lookup(%s) = %v, %d, %t; want slot %d", e.Object, got, slot, ok, i)
		}
	}
	for _, obj := range []cia402.Object{{Index: 0x1000}, {Index: 0x2326, SubIndex: 0x02}, {Index: 0xFFFF, SubIndex: 0xFF}} {
		if _, _, ok := Lookup(obj); ok {
			t.Errorf("Lookup(%s) found an entry", obj)
		}
	}
}

func TestDictionary_Defaults(t *testing.T) {
	d := New()
	if got := d.Get(cia402.ObjStatusWord); got != 0x0250 {
		t.Errorf("status word = 0x%04X, want 0x0250", got)
	}
	data, err := d.Read(cia402.ObjMotorTemperature)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if diff := cmp.Diff([]byte{25, 0}, data); diff != "" {
		t.Errorf("temperature mismatch (-want +got):\n%s", diff)
	}
}

func TestDictionary_ReadWrite(t *testing.T) {
	tests := []struct {
		name    string
		obj     cia402.Object
		data    []byte
		wantErr error
	}{
		{"target position", cia402.ObjTargetPosition, []byte{0xE8, 0x03, 0x00, 0x00}, nil},
		{"mode", cia402.ObjModesOfOperation, []byte{0x01}, nil},
		{"read only", cia402.ObjStatusWord, []byte{0x00, 0x00}, ErrReadOnly},
		{"unknown", cia402.Object{Index: 0x1000}, []byte{0x00}, ErrNoObject},
		{"too long", cia402.ObjModesOfOperation, []byte{0x01, 0x00}, ErrLengthTooHigh},
		{"too short", cia402.ObjTargetVelocity, []byte{0x01}, ErrLengthTooLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New()
			err := d.Write(tt.obj, tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Write error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			got, err := d.Read(tt.obj)
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if diff := cmp.Diff(tt.data, got); diff != "" {
				t.Errorf("read back mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDictionary_SetTruncates(t *testing.T) {
	d := New()
	d.Set(cia402.ObjModesDisplay, 0x1FF)
	if got := d.Get(cia402.ObjModesDisplay); got != 0xFF {
		t.Errorf("mode display = 0x%X, want 0xFF", got)
	}
}

func TestNewFromBytes(t *testing.T) {
	if _, err := NewFromBytes(make([]byte, 3)); !errors.Is(err, ErrBackingSize) {
		t.Fatalf("expected ErrBackingSize, got %v", err)
	}

	backing := make([]byte, Size())
	d, err := NewFromBytes(backing)
	if err != nil {
		t.Fatalf("NewFromBytes failed: %v", err)
	}
	d.Set(cia402.ObjPositionActual, 0x01020304)
	_, slot, _ := Lookup(cia402.ObjPositionActual)
	if diff := cmp.Diff([]byte{4, 3, 2, 1}, backing[slot*SlotSize:slot*SlotSize+4]); diff != "" {
		t.Errorf("backing not updated (-want +got):\n%s", diff)
	}
}

func TestAbortCode(t *testing.T) {
	tests := []struct {
		err  error
		want uint32
	}{
		{ErrNoObject, protocol.AbortNoObject},
		{ErrReadOnly, protocol.AbortReadOnly},
		{ErrLengthTooLow, protocol.AbortLengthTooLow},
		{errors.New("other"), protocol.AbortGeneral},
	}
	for _, tt := range tests {
		if got := AbortCode(tt.err); got != tt.want {
			t.Errorf("AbortCode(%v) = 0x%08X, want 0x%08X", tt.err, got, tt.want)
		}
	}
}
