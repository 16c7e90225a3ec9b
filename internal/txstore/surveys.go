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

// EmbeddingStatus mirrors the per-row pipeline state from
// embedding_service.rs's generate_embeddings_for_project.
type EmbeddingStatus string

const (
	EmbeddingPending    EmbeddingStatus = "pending"
	EmbeddingProcessing EmbeddingStatus = "processing"
	EmbeddingCompleted  EmbeddingStatus = "completed"
	EmbeddingFailed     EmbeddingStatus = "failed"
	EmbeddingSkipped    EmbeddingStatus = "skipped"
)

// SurveyResponse is one row of imported survey data, per
// original_source/api/src/models/survey.rs.
type SurveyResponse struct {
	ID                   string
	ProjectID            string
	Date                 *time.Time
	Country              *string
	URL                  *string
	Device               *string
	Browser              *string
	OS                   *string
	Rating               *float64
	Comment              *string
	Raw                  string
	EmbeddingStatus      EmbeddingStatus
	EmbeddingGeneratedAt *time.Time
}

// CommentForAnalysis is the trimmed projection used by the Agent Tool
// Surface and the Feedback Analysis LLM call.
type CommentForAnalysis struct {
	Comment string
	Rating  *float64
	Date    *time.Time
	Country *string
	Device  *string
	URL     *string
}

// SurveyStats is the aggregate summary returned by get_survey_stats.
type SurveyStats struct {
	TotalResponses        int64
	AverageRating         *float64
	FirstResponseDate     *time.Time
	LastResponseDate      *time.Time
	ResponsesWithComments int64
}

func (s *Store) InsertSurveyResponses(ctx context.Context, projectID string, rows []SurveyResponse) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, coreerrors.Internal("begin survey insert transaction", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO survey_responses (id, project_id, date, country, url, device, browser, os, ratings, comments, raw, embedding_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return 0, coreerrors.Internal("prepare survey insert", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range rows {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		status := EmbeddingSkipped
		if r.Comment != nil && *r.Comment != "" {
			status = EmbeddingPending
		}
		if _, err := stmt.ExecContext(ctx, r.ID, projectID, formatDate(r.Date), r.Country, r.URL, r.Device, r.Browser, r.OS, r.Rating, r.Comment, r.Raw, string(status)); err != nil {
			tx.Rollback()
			return 0, coreerrors.Internal("insert survey response", err)
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, coreerrors.Internal("commit survey insert", err)
	}
	return inserted, nil
}

// FindPendingEmbeddings claims up to limit (default 1000) responses awaiting
// embedding, newest first, mirroring survey_repository.rs's
// find_pending_embeddings, generalized to an atomic claim-by-update-returning
// (the teacher's vtq.Claim shape) so two worker sweeps racing on the same
// project can't both pick up and re-embed the same rows: the UPDATE moves
// each claimed row to 'processing' in the same statement that selects it.
func (s *Store) FindPendingEmbeddings(ctx context.Context, projectID string, limit int) ([]SurveyResponse, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		UPDATE survey_responses
		SET embedding_status = 'processing'
		WHERE id IN (
			SELECT id FROM survey_responses
			WHERE project_id = ?
			  AND embedding_status = 'pending'
			  AND comments IS NOT NULL
			  AND comments != ''
			ORDER BY date DESC
			LIMIT ?
		)
		RETURNING id, project_id, date, country, url, device, browser, os, ratings, comments, raw, embedding_status, embedding_generated_at
	`, projectID, limit)
	if err != nil {
		return nil, coreerrors.Internal("claim pending embeddings", err)
	}
	defer rows.Close()
	return scanSurveyResponses(rows)
}

// UpdateEmbeddingStatus records the outcome of one embedding attempt. The
// float vector itself, when present, is persisted to internal/vectorindex
// by the caller; this only updates the pipeline state.
func (s *Store) UpdateEmbeddingStatus(ctx context.Context, responseID string, status EmbeddingStatus, at time.Time) error {
	var generatedAt any
	if status == EmbeddingCompleted {
		generatedAt = at.UTC().Format(time.RFC3339)
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE survey_responses SET embedding_status = ?, embedding_generated_at = ? WHERE id = ?",
		string(status), generatedAt, responseID,
	)
	if err != nil {
		return coreerrors.Internal("update embedding status", err)
	}
	return requireRowsAffected(result, "survey response not found: "+responseID)
}

// FindCommentsByPeriod backs get_survey_by_period.
func (s *Store) FindCommentsByPeriod(ctx context.Context, projectID string, start, end time.Time, limit int64) ([]CommentForAnalysis, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT comments, ratings, date, country, device, url
		FROM survey_responses
		WHERE project_id = ?
		  AND comments IS NOT NULL AND comments != ''
		  AND date >= ? AND date <= ?
		ORDER BY date DESC
		LIMIT ?
	`, projectID, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, coreerrors.Internal("query comments by period", err)
	}
	defer rows.Close()
	return scanComments(rows)
}

// FindAllComments backs the Feedback Analysis corpus, capped at 500 rows,
// newest first, per feedback_service.rs.
func (s *Store) FindAllComments(ctx context.Context, projectID string) ([]CommentForAnalysis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT comments, ratings, date, country, device, url
		FROM survey_responses
		WHERE project_id = ? AND comments IS NOT NULL AND comments != ''
		ORDER BY date DESC
		LIMIT 500
	`, projectID)
	if err != nil {
		return nil, coreerrors.Internal("query all comments", err)
	}
	defer rows.Close()
	return scanComments(rows)
}

func (s *Store) CountComments(ctx context.Context, projectID string) (int64, error) {
	var count int64
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM survey_responses WHERE project_id = ? AND comments IS NOT NULL AND comments != ''", projectID)
	if err := row.Scan(&count); err != nil {
		return 0, coreerrors.Internal("count comments", err)
	}
	return count, nil
}

// CountByEmbeddingStatus returns how many of a project's survey rows are in
// each embedding pipeline state, for GET .../embeddings/status.
func (s *Store) CountByEmbeddingStatus(ctx context.Context, projectID string) (map[EmbeddingStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT embedding_status, COUNT(*) FROM survey_responses WHERE project_id = ? GROUP BY embedding_status", projectID)
	if err != nil {
		return nil, coreerrors.Internal("count by embedding status", err)
	}
	defer rows.Close()

	out := map[EmbeddingStatus]int64{
		EmbeddingPending:    0,
		EmbeddingProcessing: 0,
		EmbeddingCompleted:  0,
		EmbeddingFailed:     0,
		EmbeddingSkipped:    0,
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, coreerrors.Internal("scan embedding status count", err)
		}
		out[EmbeddingStatus(status)] = count
	}
	return out, rows.Err()
}

func (s *Store) GetSurveyStats(ctx context.Context, projectID string) (SurveyStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			AVG(ratings),
			MIN(date),
			MAX(date),
			COUNT(CASE WHEN comments IS NOT NULL AND comments != '' THEN 1 END)
		FROM survey_responses
		WHERE project_id = ?
	`, projectID)

	var stats SurveyStats
	var avgRating sql.NullFloat64
	var first, last sql.NullString
	if err := row.Scan(&stats.TotalResponses, &avgRating, &first, &last, &stats.ResponsesWithComments); err != nil {
		return SurveyStats{}, coreerrors.Internal("get survey stats", err)
	}
	if avgRating.Valid {
		stats.AverageRating = &avgRating.Float64
	}
	if t, ok := parseDate(first); ok {
		stats.FirstResponseDate = &t
	}
	if t, ok := parseDate(last); ok {
		stats.LastResponseDate = &t
	}
	return stats, nil
}

func scanSurveyResponses(rows *sql.Rows) ([]SurveyResponse, error) {
	var out []SurveyResponse
	for rows.Next() {
		var r SurveyResponse
		var date, country, url, device, browser, os, comment, generatedAt sql.NullString
		var rating sql.NullFloat64
		var status string
		if err := rows.Scan(&r.ID, &r.ProjectID, &date, &country, &url, &device, &browser, &os, &rating, &comment, &r.Raw, &status, &generatedAt); err != nil {
			return nil, coreerrors.Internal("scan survey response", err)
		}
		r.EmbeddingStatus = EmbeddingStatus(status)
		if t, ok := parseDate(date); ok {
			r.Date = &t
		}
		if country.Valid {
			r.Country = &country.String
		}
		if url.Valid {
			r.URL = &url.String
		}
		if device.Valid {
			r.Device = &device.String
		}
		if browser.Valid {
			r.Browser = &browser.String
		}
		if os.Valid {
			r.OS = &os.String
		}
		if rating.Valid {
			r.Rating = &rating.Float64
		}
		if comment.Valid {
			r.Comment = &comment.String
		}
		if t, ok := parseDate(generatedAt); ok {
			r.EmbeddingGeneratedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanComments(rows *sql.Rows) ([]CommentForAnalysis, error) {
	var out []CommentForAnalysis
	for rows.Next() {
		var c CommentForAnalysis
		var comment sql.NullString
		var rating sql.NullFloat64
		var date, country, device, url sql.NullString
		if err := rows.Scan(&comment, &rating, &date, &country, &device, &url); err != nil {
			return nil, coreerrors.Internal("scan comment", err)
		}
		if comment.Valid {
			c.Comment = comment.String
		}
		if rating.Valid {
			c.Rating = &rating.Float64
		}
		if t, ok := parseDate(date); ok {
			c.Date = &t
		}
		if country.Valid {
			c.Country = &country.String
		}
		if device.Valid {
			c.Device = &device.String
		}
		if url.Valid {
			c.URL = &url.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func formatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseDate(s sql.NullString) (time.Time, bool) {
	if !s.Valid {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
