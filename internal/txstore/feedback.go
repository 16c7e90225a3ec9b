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

// FeedbackAnalysis is the cached output of one feedback(project) call,
// grounded on original_source/api/src/models/feedback.rs.
type FeedbackAnalysis struct {
	ID            string
	ProjectID     string
	CreatedAt     time.Time
	ResponseCount int
	AnalysisJSON  string
	Narrative     string
	ModelUsed     string
	InputTokens   *int
	OutputTokens  *int
	DurationMs    *int
}

// FindCachedFeedback returns a cached analysis less than 24h old whose
// response_count matches the project's current comment count, per
// feedback_repository.rs's find_cached freshness rule.
func (s *Store) FindCachedFeedback(ctx context.Context, projectID string, responseCount int, now time.Time) (*FeedbackAnalysis, error) {
	cutoff := now.Add(-24 * time.Hour).UTC().Format(time.RFC3339)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, created_at, response_count, analysis, narrative, model_used, input_tokens, output_tokens, duration_ms
		FROM feedback_analyses
		WHERE project_id = ? AND response_count = ? AND created_at > ?
		ORDER BY created_at DESC
		LIMIT 1
	`, projectID, responseCount, cutoff)
	return scanFeedbackAnalysis(row)
}

func (s *Store) FindLatestFeedback(ctx context.Context, projectID string) (*FeedbackAnalysis, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, created_at, response_count, analysis, narrative, model_used, input_tokens, output_tokens, duration_ms
		FROM feedback_analyses
		WHERE project_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, projectID)
	return scanFeedbackAnalysis(row)
}

func (s *Store) InsertFeedbackAnalysis(ctx context.Context, a *FeedbackAnalysis) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_analyses (id, project_id, created_at, response_count, analysis, narrative, model_used, input_tokens, output_tokens, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ProjectID, a.CreatedAt.UTC().Format(time.RFC3339), a.ResponseCount, a.AnalysisJSON, a.Narrative, a.ModelUsed, a.InputTokens, a.OutputTokens, a.DurationMs)
	if err != nil {
		return coreerrors.Internal("insert feedback analysis", err)
	}
	return nil
}

func scanFeedbackAnalysis(row rowScanner) (*FeedbackAnalysis, error) {
	var a FeedbackAnalysis
	var createdAt string
	var inputTokens, outputTokens, durationMs sql.NullInt64
	if err := row.Scan(&a.ID, &a.ProjectID, &createdAt, &a.ResponseCount, &a.AnalysisJSON, &a.Narrative, &a.ModelUsed, &inputTokens, &outputTokens, &durationMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, coreerrors.Internal("scan feedback analysis", err)
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		a.CreatedAt = t
	}
	if inputTokens.Valid {
		v := int(inputTokens.Int64)
		a.InputTokens = &v
	}
	if outputTokens.Valid {
		v := int(outputTokens.Int64)
		a.OutputTokens = &v
	}
	if durationMs.Valid {
		v := int(durationMs.Int64)
		a.DurationMs = &v
	}
	return &a, nil
}
