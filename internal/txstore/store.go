// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package txstore

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
)

// Store wraps the shared SQLite database holding every project's relational
// state. One file for the whole deployment, unlike the per-connector
// Columnar Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the transactional store at path and
// ensures its schema exists. Pass ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, coreerrors.Internal("create transactional store directory", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, coreerrors.Internal("open transactional store", err)
	}
	db.SetMaxOpenConns(1) // single-writer file, and required for PRAGMA foreign_keys to stick across calls

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, coreerrors.Internal("enable foreign keys", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, coreerrors.Internal("apply transactional store schema", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
