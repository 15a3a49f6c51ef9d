// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/internal/emulator/model"
	"go.uber.org/multierr"
)

var errNotMapped = errors.New("persistence: image not mapped")

// MmapStorage maps the dictionary image into memory. The dictionary slots
// are the mapping itself, so writes reach the file without a copy.
type MmapStorage struct {
	path    string
	file    *os.File
	mapping mmap.MMap
}

func NewMmapStorage(path string) *MmapStorage {
	return &MmapStorage{path: path}
}

func (ms *MmapStorage) Load() (*model.Dictionary, error) {
	f, err := openImage(ms.path)
	if err != nil {
		return nil, err
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("persistence: failed to map %s: %w", ms.path, err), f.Close())
	}
	ms.file = f
	ms.mapping = m

	d, err := mapBytesToModel(m)
	if err != nil {
		return nil, multierr.Append(err, ms.Close())
	}
	return d, nil
}

func (ms *MmapStorage) Save(d *model.Dictionary) error {
	if ms.mapping == nil {
		return errNotMapped
	}
	return ms.mapping.Flush()
}

func (ms *MmapStorage) OnWrite(obj cia402.Object) {
	if ms.mapping == nil {
		return
	}
	if err := ms.mapping.Flush(); err != nil {
		slog.Error("Failed to flush mapping", "object", obj, "err", err)
	}
}

func (ms *MmapStorage) Close() error {
	var err error
	if ms.mapping != nil {
		err = multierr.Append(err, ms.mapping.Unmap())
		ms.mapping = nil
	}
	if ms.file != nil {
		err = multierr.Append(err, ms.file.Close())
		ms.file = nil
	}
	return err
}
