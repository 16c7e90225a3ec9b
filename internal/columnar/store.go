// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package columnar

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/oraclewalid/croanalysis/internal/ga4"
	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
)

// Result mirrors storage_service.rs's StorageResult: how many rows came in
// and how many were inserted vs. replaced by the write path taken.
type Result struct {
	RecordCount   int
	InsertedCount int
	UpdatedCount  int
}

// Store wraps one connector's ga4.duckdb SQLite file.
type Store struct {
	db *sql.DB
}

// Path returns the conventional file path for a (project, connector) pair,
// : {base}/{project}/{connector}/ga4.duckdb.
func Path(basePath, projectID, connectorID string) string {
	return filepath.Join(basePath, projectID, connectorID, "ga4.duckdb")
}

// Open creates the connector's data directory if needed and opens (or
// creates) its SQLite file, ensuring both tables exist.
func Open(basePath, projectID, connectorID string) (*Store, error) {
	path := Path(basePath, projectID, connectorID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, coreerrors.Internal("create columnar data directory", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, coreerrors.Internal("open columnar store", err)
	}
	db.SetMaxOpenConns(1) // one writer per connector file, matches DuckDB's single-connection model

	if _, err := db.Exec(createEventsTable); err != nil {
		db.Close()
		return nil, coreerrors.Internal("create ga4_events table", err)
	}
	if _, err := db.Exec(createPagePathsTable); err != nil {
		db.Close()
		return nil, coreerrors.Internal("create ga4_page_paths table", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Exists reports whether a connector's columnar file has been created yet,
// without opening it — used by the query engine to report NotFound for a
// connector that has never been synced without forcing a file into existence.
func Exists(basePath, projectID, connectorID string) bool {
	_, err := os.Stat(Path(basePath, projectID, connectorID))
	return err == nil
}

// Delete removes a connector's columnar file and its parent directory. A
// missing file is not an error, since callers (e.g. deleting a connector
// that was never synced) can't tell in advance whether one exists.
func Delete(basePath, projectID, connectorID string) error {
	dir := filepath.Dir(Path(basePath, projectID, connectorID))
	if err := os.RemoveAll(dir); err != nil {
		return coreerrors.Internal("delete columnar data directory", err)
	}
	return nil
}

func (s *Store) isEmpty(ctx context.Context, table string) (bool, error) {
	var count int64
	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
	if err := row.Scan(&count); err != nil {
		return false, coreerrors.Internal("count "+table, err)
	}
	return count == 0, nil
}

func (s *Store) IsEventsEmpty(ctx context.Context) (bool, error) {
	return s.isEmpty(ctx, eventsTable)
}

func (s *Store) IsPagePathsEmpty(ctx context.Context) (bool, error) {
	return s.isEmpty(ctx, pagePathsTable)
}

// MaxEventDate returns the latest date string ("YYYYMMDD") present in
// ga4_events, or ok=false if the table is empty.
func (s *Store) MaxEventDate(ctx context.Context) (date string, ok bool, err error) {
	return s.maxDate(ctx, eventsTable)
}

func (s *Store) MaxPagePathDate(ctx context.Context) (date string, ok bool, err error) {
	return s.maxDate(ctx, pagePathsTable)
}

func (s *Store) maxDate(ctx context.Context, table string) (string, bool, error) {
	var date sql.NullString
	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT MAX(date) FROM %s", table))
	if err := row.Scan(&date); err != nil {
		return "", false, coreerrors.Internal("max date for "+table, err)
	}
	if !date.Valid {
		return "", false, nil
	}
	return date.String, true, nil
}

// StoreEvents routes incoming event rows to bulk_insert (empty table) or
// upsert (non-empty).
func (s *Store) StoreEvents(ctx context.Context, rows []ga4.EventRow) (Result, error) {
	if len(rows) == 0 {
		return Result{}, nil
	}
	empty, err := s.IsEventsEmpty(ctx)
	if err != nil {
		return Result{}, err
	}
	if empty {
		if err := s.bulkInsertEvents(ctx, rows); err != nil {
			return Result{}, err
		}
		return Result{RecordCount: len(rows), InsertedCount: len(rows)}, nil
	}
	if err := s.upsertEvents(ctx, rows); err != nil {
		return Result{}, err
	}
	return Result{RecordCount: len(rows), UpdatedCount: len(rows)}, nil
}

func (s *Store) StorePagePaths(ctx context.Context, rows []ga4.PagePathRow) (Result, error) {
	if len(rows) == 0 {
		return Result{}, nil
	}
	empty, err := s.IsPagePathsEmpty(ctx)
	if err != nil {
		return Result{}, err
	}
	if empty {
		if err := s.bulkInsertPagePaths(ctx, rows); err != nil {
			return Result{}, err
		}
		return Result{RecordCount: len(rows), InsertedCount: len(rows)}, nil
	}
	if err := s.upsertPagePaths(ctx, rows); err != nil {
		return Result{}, err
	}
	return Result{RecordCount: len(rows), UpdatedCount: len(rows)}, nil
}

func (s *Store) bulkInsertEvents(ctx context.Context, rows []ga4.EventRow) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertSQL(eventsTable, eventColumns))
		if err != nil {
			return coreerrors.Internal("prepare events insert", err)
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, eventArgs(r)...); err != nil {
				return coreerrors.Internal("insert event row", err)
			}
		}
		return nil
	})
}

func (s *Store) bulkInsertPagePaths(ctx context.Context, rows []ga4.PagePathRow) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertSQL(pagePathsTable, pagePathColumns))
		if err != nil {
			return coreerrors.Internal("prepare page path insert", err)
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, pagePathArgs(r)...); err != nil {
				return coreerrors.Internal("insert page path row", err)
			}
		}
		return nil
	})
}

// upsertEvents and upsertPagePaths follow storage_service.rs's staging-table
// merge pattern: bulk-load into a throwaway table with no primary key, then
// INSERT OR REPLACE the whole thing into the keyed table in one statement.
// This keeps the per-row conflict check out of the hot insert loop.
func (s *Store) upsertEvents(ctx context.Context, rows []ga4.EventRow) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		staging := eventsTable + "_staging"
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+staging); err != nil {
			return coreerrors.Internal("drop events staging table", err)
		}
		createStaging := strings.Replace(createEventsTable, eventsTable, staging, 1)
		createStaging = stripPrimaryKey(createStaging)
		if _, err := tx.ExecContext(ctx, createStaging); err != nil {
			return coreerrors.Internal("create events staging table", err)
		}

		stmt, err := tx.PrepareContext(ctx, insertSQL(staging, eventColumns))
		if err != nil {
			return coreerrors.Internal("prepare events staging insert", err)
		}
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, eventArgs(r)...); err != nil {
				stmt.Close()
				return coreerrors.Internal("insert staged event row", err)
			}
		}
		stmt.Close()

		merge := fmt.Sprintf("INSERT OR REPLACE INTO %s SELECT * FROM %s", eventsTable, staging)
		if _, err := tx.ExecContext(ctx, merge); err != nil {
			return coreerrors.Internal("merge events staging table", err)
		}
		if _, err := tx.ExecContext(ctx, "DROP TABLE "+staging); err != nil {
			return coreerrors.Internal("drop events staging table", err)
		}
		return nil
	})
}

func (s *Store) upsertPagePaths(ctx context.Context, rows []ga4.PagePathRow) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		staging := pagePathsTable + "_staging"
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+staging); err != nil {
			return coreerrors.Internal("drop page path staging table", err)
		}
		createStaging := strings.Replace(createPagePathsTable, pagePathsTable, staging, 1)
		createStaging = stripPrimaryKey(createStaging)
		if _, err := tx.ExecContext(ctx, createStaging); err != nil {
			return coreerrors.Internal("create page path staging table", err)
		}

		stmt, err := tx.PrepareContext(ctx, insertSQL(staging, pagePathColumns))
		if err != nil {
			return coreerrors.Internal("prepare page path staging insert", err)
		}
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, pagePathArgs(r)...); err != nil {
				stmt.Close()
				return coreerrors.Internal("insert staged page path row", err)
			}
		}
		stmt.Close()

		merge := fmt.Sprintf("INSERT OR REPLACE INTO %s SELECT * FROM %s", pagePathsTable, staging)
		if _, err := tx.ExecContext(ctx, merge); err != nil {
			return coreerrors.Internal("merge page path staging table", err)
		}
		if _, err := tx.ExecContext(ctx, "DROP TABLE "+staging); err != nil {
			return coreerrors.Internal("drop page path staging table", err)
		}
		return nil
	})
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return coreerrors.Internal("begin columnar transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return coreerrors.Internal("commit columnar transaction", err)
	}
	return nil
}

func insertSQL(table string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
}

func stripPrimaryKey(createSQL string) string {
	lines := strings.Split(createSQL, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "PRIMARY KEY") {
			// the preceding line's trailing comma is no longer needed
			if len(out) > 0 {
				out[len(out)-1] = strings.TrimSuffix(strings.TrimRight(out[len(out)-1], "\n"), ",")
			}
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func eventArgs(r ga4.EventRow) []any {
	return []any{
		r.Date, r.Country, r.DeviceCategory, r.EventName, r.Browser,
		r.OperatingSystem, r.ScreenResolution, r.ActiveUsers, r.Sessions,
		r.ScreenPageViews, r.BounceRate, r.AverageSessionDuration,
	}
}

func pagePathArgs(r ga4.PagePathRow) []any {
	return []any{r.Date, r.PagePath, r.ScreenPageViews, r.TotalUsers, r.UserEngagementDuration}
}
