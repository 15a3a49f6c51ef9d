// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/protocol"
	"golang.org/x/exp/slices"
)

// SlotSize is the storage width of every object, little-endian.
const SlotSize = 4

// Access restricts SDO access to an object.
type Access int

const (
	ReadWrite Access = iota
	ReadOnly
	WriteOnly
)

// Entry describes one object of the dictionary.
type Entry struct {
	Object  cia402.Object
	Size    int
	Access  Access
	Default uint32
}

// Entries is the object table of the simulated drive, sorted by object.
var Entries = sortedEntries([]Entry{
	{cia402.ObjControlWord, 2, ReadWrite, 0},
	{cia402.ObjStatusWord, 2, ReadOnly, 0x0250},
	{cia402.ObjModesOfOperation, 1, ReadWrite, 0},
	{cia402.ObjModesDisplay, 1, ReadOnly, 0},
	{cia402.ObjPositionActual, 4, ReadOnly, 0},
	{cia402.ObjVelocityActual, 4, ReadOnly, 0},
	{cia402.ObjTargetPosition, 4, ReadWrite, 0},
	{cia402.ObjProfileVelocity, 4, ReadWrite, 1000},
	{cia402.ObjProfileAcceleration, 4, ReadWrite, 10000},
	{cia402.ObjProfileDeceleration, 4, ReadWrite, 10000},
	{cia402.ObjMotionProfileType, 2, ReadWrite, 0},
	{cia402.ObjHomingMethod, 1, ReadWrite, 35},
	{cia402.ObjTargetVelocity, 4, ReadWrite, 0},
	{cia402.ObjErrorRegister, 2, ReadOnly, 0},
	{cia402.ObjMotorTemperature, 2, ReadOnly, 25},
})

func sortedEntries(e []Entry) []Entry {
	slices.SortFunc(e, func(a, b Entry) int { return a.Object.Compare(b.Object) })
	return e
}

// Size is the number of bytes backing a Dictionary.
func Size() int { return len(Entries) * SlotSize }

var (
	ErrNoObject      = errors.New("object does not exist")
	ErrReadOnly      = errors.New("object is read only")
	ErrWriteOnly     = errors.New("object is write only")
	ErrLengthTooHigh = errors.New("data too long")
	ErrLengthTooLow  = errors.New("data too short")
	ErrBackingSize   = errors.New("backing slice has wrong size")
)

// AbortCode maps a dictionary error to the abort code sent to the host.
func AbortCode(err error) uint32 {
	switch {
	case errors.Is(err, ErrNoObject):
		return protocol.AbortNoObject
	case errors.Is(err, ErrReadOnly):
		return protocol.AbortReadOnly
	case errors.Is(err, ErrWriteOnly):
		return protocol.AbortWriteOnly
	case errors.Is(err, ErrLengthTooHigh):
		return protocol.AbortLengthTooHigh
	case errors.Is(err, ErrLengthTooLow):
		return protocol.AbortLengthTooLow
	}
	return protocol.AbortGeneral
}

// Dictionary holds the object values of one drive in a flat byte slice,
// one slot per entry. The slice may be backed by a file mapping.
type Dictionary struct {
	mu   sync.RWMutex
	data []byte
}

// New creates a dictionary holding the default values.
func New() *Dictionary {
	d := &Dictionary{data: make([]byte, Size())}
	d.Reset()
	return d
}

// NewFromBytes uses data as backing store without copying or initializing it.
func NewFromBytes(data []byte) (*Dictionary, error) {
	if len(data) != Size() {
		return nil, fmt.Errorf("%w: %d, want %d", ErrBackingSize, len(data), Size())
	}
	return &Dictionary{data: data}, nil
}

// Reset restores all default values.
func (d *Dictionary) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range Entries {
		binary.LittleEndian.PutUint32(d.data[i*SlotSize:], e.Default)
	}
}

// Bytes returns the backing slice. Callers must not modify it.
func (d *Dictionary) Bytes() []byte { return d.data }

// Lookup returns the entry and slot of obj.
func Lookup(obj cia402.Object) (Entry, int, bool) {
	i, ok := slices.BinarySearchFunc(Entries, obj, func(e Entry, o cia402.Object) int { return e.Object.Compare(o) })
	if ok {
		return Entries[i], i, true
	}
	return Entry{}, 0, false
}

// Read returns the value of obj encoded with the size of its entry.
func (d *Dictionary) Read(obj cia402.Object) ([]byte, error) {
	e, slot, ok := Lookup(obj)
	if !ok {
		return nil, fmt.Errorf("read %s: %w", obj, ErrNoObject)
	}
	if e.Access == WriteOnly {
		return nil, fmt.Errorf("read %s: %w", obj, ErrWriteOnly)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]byte, e.Size)
	copy(out, d.data[slot*SlotSize:slot*SlotSize+e.Size])
	return out, nil
}

// Write stores data into obj. The length must match the entry size.
func (d *Dictionary) Write(obj cia402.Object, data []byte) error {
	e, slot, ok := Lookup(obj)
	if !ok {
		return fmt.Errorf("write %s: %w", obj, ErrNoObject)
	}
	if e.Access == ReadOnly {
		return fmt.Errorf("write %s: %w", obj, ErrReadOnly)
	}
	switch {
	case len(data) > e.Size:
		return fmt.Errorf("write %s: %w", obj, ErrLengthTooHigh)
	case len(data) < e.Size:
		return fmt.Errorf("write %s: %w", obj, ErrLengthTooLow)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	var buf [SlotSize]byte
	copy(buf[:], data)
	copy(d.data[slot*SlotSize:], buf[:])
	return nil
}

// Get returns the raw value of obj regardless of access rights.
func (d *Dictionary) Get(obj cia402.Object) uint32 {
	_, slot, ok := Lookup(obj)
	if !ok {
		return 0
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return binary.LittleEndian.Uint32(d.data[slot*SlotSize:])
}

// Set stores value in obj regardless of access rights, truncated to the
// entry size.
func (d *Dictionary) Set(obj cia402.Object, value uint32) {
	e, slot, ok := Lookup(obj)
	if !ok {
		return
	}
	if e.Size < SlotSize {
		value &= 1<<(8*e.Size) - 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	binary.LittleEndian.PutUint32(d.data[slot*SlotSize:], value)
}
