// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/internal/emulator/model"
)

// MemoryStorage is a no-op storage (non-persistent).
type MemoryStorage struct{}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (ms *MemoryStorage) Load() (*model.Dictionary, error) {
	return model.New(), nil
}

func (ms *MemoryStorage) Save(d *model.Dictionary) error {
	return nil
}

func (ms *MemoryStorage) OnWrite(obj cia402.Object) {}

func (ms *MemoryStorage) Close() error {
	return nil
}
