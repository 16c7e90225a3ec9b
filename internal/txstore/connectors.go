// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package txstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
)

// ConnectorKind enumerates supported connector types; only GA4 is
// implemented.
type ConnectorKind string

const ConnectorKindGA4 ConnectorKind = "ga4"

// Connector holds the operational metadata for one data source. OAuth
// access/refresh tokens are never stored here — they live in the Token
// Store (internal/tokenstore), keyed by (project_id, connector_id), so a
// dump of this table never leaks credentials.
type Connector struct {
	ID           string
	ProjectID    string
	Name         string
	Kind         ConnectorKind
	PropertyID   *string
	PropertyName *string
	LastSync     *time.Time
}

// CreateConnector rejects a second connector of the same kind on the same
// project>409 rule. The read-then-insert check below gives the common case a
// clean error message; idx_connectors_project_kind is what actually closes
// the race between two concurrent creates, so a unique-constraint failure on
// the INSERT itself is mapped to the same Conflict rather than Internal.
func (s *Store) CreateConnector(ctx context.Context, projectID, name string, kind ConnectorKind) (*Connector, error) {
	existing, err := s.ListConnectors(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		if e.Kind == kind {
			return nil, coreerrors.Conflict("project already has a connector of kind " + string(kind))
		}
	}

	c := &Connector{ID: uuid.NewString(), ProjectID: projectID, Name: name, Kind: kind}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO connectors (id, project_id, name, kind) VALUES (?, ?, ?, ?)",
		c.ID, c.ProjectID, c.Name, string(c.Kind),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, coreerrors.Conflict("project already has a connector of kind " + string(kind))
		}
		return nil, coreerrors.Internal("insert connector", err)
	}
	return c, nil
}

// DeleteConnector removes a connector's metadata row. It does not remove
// the connector's columnar file on disk; callers that want that cleanup do
// it explicitly via columnar.Delete, keeping this store ignorant of the
// columnar layer's on-disk layout.
func (s *Store) DeleteConnector(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM connectors WHERE id = ?", id)
	if err != nil {
		return coreerrors.Internal("delete connector", err)
	}
	return requireRowsAffected(result, "connector not found: "+id)
}

func (s *Store) GetConnector(ctx context.Context, id string) (*Connector, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, project_id, name, kind, property_id, property_name, last_sync FROM connectors WHERE id = ?", id)
	return scanConnector(row)
}

func (s *Store) ListConnectors(ctx context.Context, projectID string) ([]Connector, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, name, kind, property_id, property_name, last_sync FROM connectors WHERE project_id = ? ORDER BY name", projectID)
	if err != nil {
		return nil, coreerrors.Internal("list connectors", err)
	}
	defer rows.Close()

	var out []Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SetConnectorProperty selects the GA4 property for a connector, for the
// PUT .../property endpoint.
func (s *Store) SetConnectorProperty(ctx context.Context, id, propertyID, propertyName string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE connectors SET property_id = ?, property_name = ? WHERE id = ?",
		propertyID, propertyName, id,
	)
	if err != nil {
		return coreerrors.Internal("set connector property", err)
	}
	return requireRowsAffected(result, "connector not found: "+id)
}

// TouchLastSync records a successful pull.
func (s *Store) TouchLastSync(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, "UPDATE connectors SET last_sync = ? WHERE id = ?", at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return coreerrors.Internal("touch connector last_sync", err)
	}
	return requireRowsAffected(result, "connector not found: "+id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnector(row rowScanner) (*Connector, error) {
	var c Connector
	var kind string
	var propertyID, propertyName, lastSync sql.NullString
	if err := row.Scan(&c.ID, &c.ProjectID, &c.Name, &kind, &propertyID, &propertyName, &lastSync); err != nil {
		if err == sql.ErrNoRows {
			return nil, coreerrors.NotFound("connector not found")
		}
		return nil, coreerrors.Internal("scan connector", err)
	}
	c.Kind = ConnectorKind(kind)
	if propertyID.Valid {
		c.PropertyID = &propertyID.String
	}
	if propertyName.Valid {
		c.PropertyName = &propertyName.String
	}
	if lastSync.Valid {
		t, err := time.Parse(time.RFC3339, lastSync.String)
		if err == nil {
			c.LastSync = &t
		}
	}
	return &c, nil
}

func requireRowsAffected(result sql.Result, notFoundMessage string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return coreerrors.Internal("rows affected", err)
	}
	if n == 0 {
		return coreerrors.NotFound(notFoundMessage)
	}
	return nil
}
