// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"path/filepath"

	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/internal/config"
	"github.com/ffutop/mcdrive/internal/emulator/model"
)

// Storage defines the interface for persisting the object dictionary of a
// simulated drive.
type Storage interface {
	// Load loads the dictionary from storage. Missing data yields defaults.
	Load() (*model.Dictionary, error)

	// Save saves the current dictionary to storage.
	Save(d *model.Dictionary) error

	// OnWrite is a hook called whenever an object is modified.
	OnWrite(obj cia402.Object)

	Close() error
}

// Open creates the storage of one node. File based types keep one file per
// node below cfg.Path; the sql type keeps all nodes in one database.
func Open(cfg config.PersistenceConfig, nodeID byte) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(nodeFile(cfg.Path, nodeID)), nil
	case "mmap":
		return NewMmapStorage(nodeFile(cfg.Path, nodeID)), nil
	case "sql":
		if cfg.Path == "" {
			return nil, fmt.Errorf("persistence: sql storage needs a path")
		}
		return NewSQLStorage(sqliteDriver, cfg.Path, nodeID), nil
	}
	return nil, fmt.Errorf("persistence: unknown type %q", cfg.Type)
}

func nodeFile(dir string, nodeID byte) string {
	return filepath.Join(dir, fmt.Sprintf("node-%d.od", nodeID))
}
