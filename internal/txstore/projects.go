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

	"github.com/google/uuid"

	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
)

// Project is the parent of connectors and surveys.
type Project struct {
	ID          string
	Name        string
	Description *string
}

func (s *Store) CreateProject(ctx context.Context, name string, description *string) (*Project, error) {
	p := &Project{ID: uuid.NewString(), Name: name, Description: description}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO projects (id, name, description) VALUES (?, ?, ?)",
		p.ID, p.Name, p.Description,
	)
	if err != nil {
		return nil, coreerrors.Internal("insert project", err)
	}
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, name, description FROM projects WHERE id = ?", id)
	var p Project
	var desc sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &desc); err != nil {
		if err == sql.ErrNoRows {
			return nil, coreerrors.NotFound("project not found: " + id)
		}
		return nil, coreerrors.Internal("get project", err)
	}
	if desc.Valid {
		p.Description = &desc.String
	}
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, description FROM projects ORDER BY name")
	if err != nil {
		return nil, coreerrors.Internal("list projects", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		var desc sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &desc); err != nil {
			return nil, coreerrors.Internal("scan project", err)
		}
		if desc.Valid {
			p.Description = &desc.String
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProject applies a partial update: nil fields are left unchanged.
func (s *Store) UpdateProject(ctx context.Context, id string, name *string, description *string) (*Project, error) {
	existing, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != nil {
		existing.Name = *name
	}
	if description != nil {
		existing.Description = description
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE projects SET name = ?, description = ? WHERE id = ?",
		existing.Name, existing.Description, id,
	)
	if err != nil {
		return nil, coreerrors.Internal("update project", err)
	}
	return existing, nil
}

// DeleteProject cascades to connectors, surveys, feedback analyses, and CRO
// reports via the schema's ON DELETE CASCADE.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return coreerrors.Internal("delete project", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return coreerrors.Internal("delete project rows affected", err)
	}
	if n == 0 {
		return coreerrors.NotFound("project not found: " + id)
	}
	return nil
}
