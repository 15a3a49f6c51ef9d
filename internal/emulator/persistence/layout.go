// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/internal/emulator/model"
	"go.uber.org/multierr"
)

// File layout:
// - magic "MCOD" (4 bytes)
// - entry count, uint32 little-endian (4 bytes)
// - one model.SlotSize slot per dictionary entry
const headerSize = 8

var magic = []byte("MCOD")

func totalSize() int { return headerSize + model.Size() }

// validHeader reports whether data starts with a header matching the
// current dictionary layout.
func validHeader(data []byte) bool {
	if len(data) < headerSize || !bytes.Equal(data[:4], magic) {
		return false
	}
	return binary.LittleEndian.Uint32(data[4:headerSize]) == uint32(len(model.Entries))
}

func putHeader(data []byte) {
	copy(data, magic)
	binary.LittleEndian.PutUint32(data[4:headerSize], uint32(len(model.Entries)))
}

// mapBytesToModel constructs a Dictionary backed by the slots of data. A
// missing or stale header resets the slots to defaults.
func mapBytesToModel(data []byte) (*model.Dictionary, error) {
	fresh := !validHeader(data)
	d, err := model.NewFromBytes(data[headerSize:totalSize()])
	if err != nil {
		return nil, err
	}
	if fresh {
		putHeader(data)
		d.Reset()
	}
	return d, nil
}

// slotRange is the byte range of obj within a dictionary image.
func slotRange(obj cia402.Object) (int, int, bool) {
	_, slot, ok := model.Lookup(obj)
	if !ok {
		return 0, 0, false
	}
	off := headerSize + slot*model.SlotSize
	return off, off + model.SlotSize, true
}

// openImage opens the dictionary image at path, creating it with the size
// of the current layout.
func openImage(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("persistence: failed to open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err == nil && fi.Size() != int64(totalSize()) {
		err = f.Truncate(int64(totalSize()))
	}
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("persistence: failed to size %s: %w", path, err), f.Close())
	}
	return f, nil
}
