// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/internal/emulator/model"

	_ "modernc.org/sqlite"
)

const sqliteDriver = "sqlite"

// SQLStorage implements persistence using a SQL database. Rows of all nodes
// share the table `drive_objects`, keyed by node, index and sub index.
type SQLStorage struct {
	driver string
	dsn    string
	nodeID byte
	db     *sql.DB
	model  *model.Dictionary
}

// NewSQLStorage creates a new SQLStorage for one node.
func NewSQLStorage(driver, dsn string, nodeID byte) *SQLStorage {
	return &SQLStorage{
		driver: driver,
		dsn:    dsn,
		nodeID: nodeID,
	}
}

// Load connects to the DB and loads the stored objects over the defaults.
func (s *SQLStorage) Load() (*model.Dictionary, error) {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	s.db = db

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	d := model.New()
	s.model = d

	rows, err := db.Query("SELECT idx, sub, value FROM drive_objects WHERE node = ?", int(s.nodeID))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to query objects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var index, sub int
		var value int64
		if err := rows.Scan(&index, &sub, &value); err != nil {
			continue
		}
		obj := cia402.Object{Index: uint16(index), SubIndex: uint8(sub)}
		if _, _, ok := model.Lookup(obj); !ok {
			continue
		}
		d.Set(obj, uint32(value))
	}
	if err := rows.Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read objects: %w", err)
	}

	return d, nil
}

func (s *SQLStorage) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS drive_objects (
		node INTEGER,
		idx INTEGER,
		sub INTEGER,
		value INTEGER,
		PRIMARY KEY (node, idx, sub)
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// Save writes every object in one transaction.
func (s *SQLStorage) Save(d *model.Dictionary) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	for _, e := range model.Entries {
		if err := upsert(tx, s.nodeID, e.Object, d.Get(e.Object)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// OnWrite upserts the changed object to the DB.
func (s *SQLStorage) OnWrite(obj cia402.Object) {
	if s.db == nil || s.model == nil {
		return
	}
	if err := upsert(s.db, s.nodeID, obj, s.model.Get(obj)); err != nil {
		slog.Error("Failed to persist object", "node", s.nodeID, "object", obj, "err", err)
	}
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsert(db execer, nodeID byte, obj cia402.Object, value uint32) error {
	const query = "INSERT INTO drive_objects (node, idx, sub, value) VALUES (?, ?, ?, ?) ON CONFLICT(node, idx, sub) DO UPDATE SET value=excluded.value"
	if _, err := db.Exec(query, int(nodeID), int(obj.Index), int(obj.SubIndex), int64(value)); err != nil {
		return fmt.Errorf("failed to upsert %s: %w", obj, err)
	}
	return nil
}

func (s *SQLStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}
