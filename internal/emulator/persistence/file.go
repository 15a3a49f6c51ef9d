// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/internal/emulator/model"
	"go.uber.org/multierr"
)

// FileStorage keeps the dictionary image in memory and writes it back with
// plain file I/O. A single object write only rewrites its own slot.
type FileStorage struct {
	path  string
	file  *os.File
	image []byte
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (fs *FileStorage) Load() (*model.Dictionary, error) {
	f, err := openImage(fs.path)
	if err != nil {
		return nil, err
	}

	image := make([]byte, totalSize())
	if _, err := io.ReadFull(f, image); err != nil {
		return nil, multierr.Append(fmt.Errorf("persistence: failed to read %s: %w", fs.path, err), f.Close())
	}
	fresh := !validHeader(image)
	d, err := mapBytesToModel(image)
	if err != nil {
		return nil, multierr.Append(err, f.Close())
	}

	fs.file = f
	fs.image = image
	if fresh {
		if err := fs.writeRange(0, len(image)); err != nil {
			return nil, multierr.Append(err, fs.Close())
		}
	}
	return d, nil
}

// Save rewrites the whole image.
func (fs *FileStorage) Save(d *model.Dictionary) error {
	if fs.file == nil {
		return nil
	}
	return fs.writeRange(0, len(fs.image))
}

func (fs *FileStorage) OnWrite(obj cia402.Object) {
	if fs.file == nil {
		return
	}
	from, to, ok := slotRange(obj)
	if !ok {
		return
	}
	if err := fs.writeRange(from, to); err != nil {
		slog.Error("Failed to persist object", "object", obj, "err", err)
	}
}

func (fs *FileStorage) writeRange(from, to int) error {
	if _, err := fs.file.WriteAt(fs.image[from:to], int64(from)); err != nil {
		return fmt.Errorf("persistence: failed to write %s: %w", fs.path, err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("persistence: failed to sync %s: %w", fs.path, err)
	}
	return nil
}

func (fs *FileStorage) Close() error {
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}
