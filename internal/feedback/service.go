// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package feedback

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
	"github.com/oraclewalid/croanalysis/internal/txstore"
)

// MinComments is the minimum comment count generate_feedback requires
// before calling the LLM, per feedback_service.rs.
const MinComments = 5

// Service orchestrates the cache-check/fetch/LLM-call/persist cycle.
type Service struct {
	tx     *txstore.Store
	caller Caller
	logger *slog.Logger
}

func NewService(tx *txstore.Store, caller Caller, logger *slog.Logger) *Service {
	return &Service{tx: tx, caller: caller, logger: logger}
}

// Generate returns a feedback analysis for projectID, using a cached
// result less than 24h old (matched by comment count) unless force is
// true or no cache exists.
func (s *Service) Generate(ctx context.Context, projectID string, force bool) (*txstore.FeedbackAnalysis, error) {
	commentCount, err := s.tx.CountComments(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if commentCount < MinComments {
		return nil, coreerrors.BadRequest("not enough comments for analysis (minimum 5 required)")
	}

	if !force {
		cached, err := s.tx.FindCachedFeedback(ctx, projectID, int(commentCount), time.Now())
		if err != nil {
			return nil, err
		}
		if cached != nil {
			s.logger.Info("feedback analysis: returning cached result", "project_id", projectID)
			return cached, nil
		}
	}

	comments, err := s.tx.FindAllComments(ctx, projectID)
	if err != nil {
		return nil, err
	}

	result, err := s.caller.Analyze(ctx, comments)
	if err != nil {
		return nil, err
	}

	analysisJSON, err := json.Marshal(result.Analysis)
	if err != nil {
		return nil, err
	}

	durationMs := result.DurationMs
	record := &txstore.FeedbackAnalysis{
		ProjectID:     projectID,
		CreatedAt:     time.Now(),
		ResponseCount: int(commentCount),
		AnalysisJSON:  string(analysisJSON),
		Narrative:     result.Narrative,
		ModelUsed:     result.ModelUsed,
		InputTokens:   result.InputTokens,
		OutputTokens:  result.OutputTokens,
		DurationMs:    &durationMs,
	}

	// A failed insert just means the next identical request recomputes instead
	// of hitting the cache; it doesn't affect the result returned here.
	if err := s.tx.InsertFeedbackAnalysis(ctx, record); err != nil {
		s.logger.Warn("feedback analysis: failed to cache result", "project_id", projectID, "error", err)
	}

	s.logger.Info("feedback analysis: complete", "project_id", projectID, "duration_ms", durationMs)
	return record, nil
}
