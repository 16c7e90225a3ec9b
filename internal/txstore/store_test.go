// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package txstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
)

func newTestStore(t *testing.T) *Store {
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestProjectDeleteCascadesToConnectors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, "Acme", nil)
	require.NoError(t, err)
	_, err = s.CreateConnector(ctx, p.ID, "main", ConnectorKindGA4)
	require.NoError(t, err)

	require.NoError(t, s.DeleteProject(ctx, p.ID))

	_, err = s.GetProject(ctx, p.ID)
	assert.True(t, coreerrors.IsNotFound(err))

	conns, err := s.ListConnectors(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, conns)
}

func TestTouchLastSyncUpdatesConnector(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, "Acme", nil)
	require.NoError(t, err)
	c, err := s.CreateConnector(ctx, p.ID, "main", ConnectorKindGA4)
	require.NoError(t, err)
	assert.Nil(t, c.LastSync)

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.TouchLastSync(ctx, c.ID, now))

	got, err := s.GetConnector(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSync)
	assert.WithinDuration(t, now, *got.LastSync, time.Second)
}

func TestFindPendingEmbeddingsExcludesEmptyComments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, err := s.CreateProject(ctx, "Acme", nil)
	require.NoError(t, err)

	comment := "great product"
	empty := ""
	_, err = s.InsertSurveyResponses(ctx, p.ID, []SurveyResponse{
		{Comment: &comment, Raw: "{}"},
		{Comment: &empty, Raw: "{}"},
	})
	require.NoError(t, err)

	pending, err := s.FindPendingEmbeddings(ctx, p.ID, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "great product", *pending[0].Comment)
}

func TestFindCachedFeedbackRequiresMatchingResponseCountAndFreshness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, err := s.CreateProject(ctx, "Acme", nil)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, s.InsertFeedbackAnalysis(ctx, &FeedbackAnalysis{
		ProjectID: p.ID, CreatedAt: now.Add(-time.Hour), ResponseCount: 12,
		AnalysisJSON: "{}", Narrative: "n", ModelUsed: "configured-chat-model",
	}))

	got, err := s.FindCachedFeedback(ctx, p.ID, 12, now)
	require.NoError(t, err)
	require.NotNil(t, got)

	stale, err := s.FindCachedFeedback(ctx, p.ID, 13, now)
	require.NoError(t, err)
	assert.Nil(t, stale, "response_count mismatch must miss the cache")

	old, err := s.FindCachedFeedback(ctx, p.ID, 12, now.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, old, "cache entries older than 24h must miss")
}
