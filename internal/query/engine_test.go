// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oraclewalid/croanalysis/internal/columnar"
	"github.com/oraclewalid/croanalysis/internal/config"
	"github.com/oraclewalid/croanalysis/internal/ga4"
	"github.com/oraclewalid/croanalysis/internal/txstore"
	"github.com/oraclewalid/croanalysis/internal/vectorindex"
)

func seedStore(t *testing.T, basePath, projectID, connectorID string) {
	t.Helper()
	store, err := columnar.Open(basePath, projectID, connectorID)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.StoreEvents(ctx, []ga4.EventRow{
		{Date: "20260101", EventName: "page_view", ActiveUsers: 100, Sessions: 100},
		{Date: "20260101", EventName: "view_item", ActiveUsers: 60, Sessions: 60},
		{Date: "20260101", EventName: "add_to_cart", ActiveUsers: 20, Sessions: 20},
	})
	require.NoError(t, err)

	_, err = store.StorePagePaths(ctx, []ga4.PagePathRow{
		{Date: "20260101", PagePath: "/", ScreenPageViews: 500, TotalUsers: 200, UserEngagementDuration: 1000},
		{Date: "20260101", PagePath: "/cart", ScreenPageViews: 80, TotalUsers: 50, UserEngagementDuration: 400},
	})
	require.NoError(t, err)
}

func TestDropOffPointsFiltersAndRanksByWorstDropoff(t *testing.T) {
	basePath := t.TempDir()
	seedStore(t, basePath, "proj-1", "conn-1")

	e := New(basePath, config.DefaultFunnelStages(), nil, nil, nil)
	points, err := e.DropOffPoints(context.Background(), "proj-1", "conn-1", columnar.DimensionAll, "20260101", "20260101", 0)
	require.NoError(t, err)
	require.NotEmpty(t, points)
	for i := 1; i < len(points); i++ {
		require.GreaterOrEqual(t, points[i-1].DropoffPct, points[i].DropoffPct)
	}
}

func TestDropOffPointsRespectsLimit(t *testing.T) {
	basePath := t.TempDir()
	seedStore(t, basePath, "proj-1", "conn-1")

	e := New(basePath, config.DefaultFunnelStages(), nil, nil, nil)
	all, err := e.DropOffPoints(context.Background(), "proj-1", "conn-1", columnar.DimensionAll, "20260101", "20260101", 0)
	require.NoError(t, err)
	require.Greater(t, len(all), 0)

	limited, err := e.DropOffPoints(context.Background(), "proj-1", "conn-1", columnar.DimensionAll, "20260101", "20260101", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, all[0], limited[0])
}

func TestPagePathsDelegatesToColumnarStore(t *testing.T) {
	basePath := t.TempDir()
	seedStore(t, basePath, "proj-1", "conn-1")

	e := New(basePath, config.DefaultFunnelStages(), nil, nil, nil)
	rows, err := e.PagePaths(context.Background(), "proj-1", "conn-1", "20260101", "20260101", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "/", rows[0].PagePath, "highest pageview path should sort first")
}

func TestFunnelOnUnsyncedConnectorReturnsNotFound(t *testing.T) {
	e := New(t.TempDir(), config.DefaultFunnelStages(), nil, nil, nil)
	_, err := e.Funnel(context.Background(), "proj-1", "conn-missing", columnar.DimensionAll, "20260101", "20260101")
	require.Error(t, err)
}

func TestComparePeriodsComputesDeltaPerStage(t *testing.T) {
	basePath := t.TempDir()
	store, err := columnar.Open(basePath, "proj-1", "conn-1")
	require.NoError(t, err)
	ctx := context.Background()
	_, err = store.StoreEvents(ctx, []ga4.EventRow{
		{Date: "20260101", EventName: "page_view", ActiveUsers: 100, Sessions: 100},
		{Date: "20260201", EventName: "page_view", ActiveUsers: 150, Sessions: 150},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	e := New(basePath, config.DefaultFunnelStages(), nil, nil, nil)
	comparisons, err := e.ComparePeriods(ctx, "proj-1", "conn-1", columnar.DimensionAll,
		"20260201", "20260201", "20260101", "20260101")
	require.NoError(t, err)
	require.NotEmpty(t, comparisons)
	require.Equal(t, int64(150), comparisons[0].CurrentUsers)
	require.Equal(t, int64(100), comparisons[0].PreviousUsers)
	require.Equal(t, int64(50), comparisons[0].DeltaUsers)
}

type fakeEmbedder struct {
	vector []float32
}

func (f fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

type fakeVectorSearcher struct {
	hits []vectorindex.Hit
}

func (f fakeVectorSearcher) Search(_ context.Context, _ string, _ []float32, _ int) ([]vectorindex.Hit, error) {
	return f.hits, nil
}

func TestSearchCommentsEmbedsQueryAndDelegatesToVectorSearch(t *testing.T) {
	hits := []vectorindex.Hit{{ResponseID: "r1", Comment: "loved it", Distance: 0.05}}
	e := New(t.TempDir(), config.DefaultFunnelStages(), nil, fakeEmbedder{vector: []float32{0.1}}, fakeVectorSearcher{hits: hits})

	got, err := e.SearchComments(context.Background(), "proj-1", "checkout experience", 5)
	require.NoError(t, err)
	require.Equal(t, hits, got)
}

func TestSearchCommentsWithoutConfiguredBackendFails(t *testing.T) {
	e := New(t.TempDir(), config.DefaultFunnelStages(), nil, nil, nil)
	_, err := e.SearchComments(context.Background(), "proj-1", "checkout experience", 5)
	require.Error(t, err)
}

func TestSurveyStatsDelegatesToTxstore(t *testing.T) {
	tx, err := txstore.Open(":memory:")
	require.NoError(t, err)
	defer tx.Close()

	ctx := context.Background()
	p, err := tx.CreateProject(ctx, "Acme", nil)
	require.NoError(t, err)
	comment := "great"
	_, err = tx.InsertSurveyResponses(ctx, p.ID, []txstore.SurveyResponse{{Comment: &comment, Raw: "{}"}})
	require.NoError(t, err)

	e := New(t.TempDir(), config.DefaultFunnelStages(), tx, nil, nil)
	stats, err := e.SurveyStats(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.TotalResponses)

	_, err = e.SurveyByPeriod(ctx, p.ID, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
}
