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
	"time"

	"github.com/google/uuid"

	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
)

// CroReport is the persisted structured output of the Agent Loop, grounded
// on original_source/api/src/models/cro_report.rs.
// The nested sections (funnel analysis, qualitative insights,
// recommendations) are stored as opaque JSON the caller marshals/unmarshals
// with the internal/agent report types, keeping this repository agnostic
// of the report schema's evolution.
type CroReport struct {
	ID                      string
	ProjectID               string
	ConnectorID             string
	CreatedAt               time.Time
	ExecutiveSummary        string
	FunnelAnalysisJSON      string
	QualitativeInsightsJSON string
	RecommendationsJSON     string
	ModelUsed               string
	InputTokens             int
	OutputTokens            int
	ToolCallsCount          int
	DurationMs              int
}

func (s *Store) InsertCroReport(ctx context.Context, r *CroReport) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cro_reports (
			id, project_id, connector_id, created_at, executive_summary,
			funnel_analysis, qualitative_insights, recommendations,
			model_used, input_tokens, output_tokens, tool_calls_count, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.ProjectID, r.ConnectorID, r.CreatedAt.UTC().Format(time.RFC3339), r.ExecutiveSummary,
		r.FunnelAnalysisJSON, r.QualitativeInsightsJSON, r.RecommendationsJSON,
		r.ModelUsed, r.InputTokens, r.OutputTokens, r.ToolCallsCount, r.DurationMs)
	if err != nil {
		return coreerrors.Internal("insert CRO report", err)
	}
	return nil
}

func (s *Store) GetCroReport(ctx context.Context, id string) (*CroReport, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, connector_id, created_at, executive_summary,
		       funnel_analysis, qualitative_insights, recommendations,
		       model_used, input_tokens, output_tokens, tool_calls_count, duration_ms
		FROM cro_reports WHERE id = ?
	`, id)
	return scanCroReport(row)
}

func (s *Store) ListCroReports(ctx context.Context, projectID string) ([]CroReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, connector_id, created_at, executive_summary,
		       funnel_analysis, qualitative_insights, recommendations,
		       model_used, input_tokens, output_tokens, tool_calls_count, duration_ms
		FROM cro_reports WHERE project_id = ? ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, coreerrors.Internal("list CRO reports", err)
	}
	defer rows.Close()

	var out []CroReport
	for rows.Next() {
		r, err := scanCroReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanCroReport(row rowScanner) (*CroReport, error) {
	var r CroReport
	var createdAt string
	if err := row.Scan(&r.ID, &r.ProjectID, &r.ConnectorID, &createdAt, &r.ExecutiveSummary,
		&r.FunnelAnalysisJSON, &r.QualitativeInsightsJSON, &r.RecommendationsJSON,
		&r.ModelUsed, &r.InputTokens, &r.OutputTokens, &r.ToolCallsCount, &r.DurationMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, coreerrors.NotFound("CRO report not found")
		}
		return nil, coreerrors.Internal("scan CRO report", err)
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		r.CreatedAt = t
	}
	return &r, nil
}
