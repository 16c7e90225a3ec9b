// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package columnar

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oraclewalid/croanalysis/internal/config"
	"github.com/oraclewalid/croanalysis/internal/ga4"
)

func newTestStore(t *testing.T) *Store {
	dir := t.TempDir()
	s, err := Open(dir, "proj-1", "conn-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleEventRow(date, eventName string, users int64) ga4.EventRow {
	return ga4.EventRow{
		Date: date, Country: "US", DeviceCategory: "mobile", EventName: eventName,
		Browser: "Chrome", OperatingSystem: "Android", ScreenResolution: "1080x1920",
		ActiveUsers: users, Sessions: users, ScreenPageViews: users * 2,
		BounceRate: 0.3, AverageSessionDuration: 45.0,
	}
}

func TestStoreEventsFirstSyncBulkInserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.IsEventsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)

	result, err := s.StoreEvents(ctx, []ga4.EventRow{
		sampleEventRow("20250301", "page_view", 100),
		sampleEventRow("20250302", "page_view", 90),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.RecordCount)
	assert.Equal(t, 2, result.InsertedCount)
	assert.Equal(t, 0, result.UpdatedCount)

	empty, err = s.IsEventsEmpty(ctx)
	require.NoError(t, err)
	assert.False(t, empty)

	maxDate, ok, err := s.MaxEventDate(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "20250302", maxDate)
}

func TestStoreEventsIncrementalUpsertsWithoutDuplication(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.StoreEvents(ctx, []ga4.EventRow{sampleEventRow("20250301", "page_view", 100)})
	require.NoError(t, err)

	// Incremental pull re-sends the same key with a revised count plus a new day.
	result, err := s.StoreEvents(ctx, []ga4.EventRow{
		sampleEventRow("20250301", "page_view", 150),
		sampleEventRow("20250303", "page_view", 80),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.UpdatedCount)

	var count int64
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ga4_events WHERE date = '20250301'")
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, int64(1), count, "upsert must replace, not duplicate, the existing key")

	var activeUsers int64
	row = s.db.QueryRowContext(ctx, "SELECT active_users FROM ga4_events WHERE date = '20250301'")
	require.NoError(t, row.Scan(&activeUsers))
	assert.Equal(t, int64(150), activeUsers)
}

func TestFunnelComputesStageDropoffAndConversion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.StoreEvents(ctx, []ga4.EventRow{
		sampleEventRow("20250301", "page_view", 1000),
		sampleEventRow("20250301", "view_item", 600),
		sampleEventRow("20250301", "add_to_cart", 550),
		sampleEventRow("20250301", "begin_checkout", 200),
		sampleEventRow("20250301", "purchase", 180),
	})
	require.NoError(t, err)

	stages, err := s.Funnel(ctx, config.DefaultFunnelStages(), DimensionAll, "20250301", "20250301")
	require.NoError(t, err)
	require.Len(t, stages, 5)

	assert.Equal(t, "page_view", stages[0].StageName)
	assert.Nil(t, stages[0].UsersDropped)
	assert.Equal(t, "view_item", stages[1].StageName)
	require.NotNil(t, stages[1].UsersDropped)
	assert.Equal(t, int64(400), *stages[1].UsersDropped)
	require.NotNil(t, stages[1].ConversionFromStartPct)
	assert.InDelta(t, 60.0, *stages[1].ConversionFromStartPct, 0.01)
}

func TestPagePathsOrderedByPageviewsDescending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.StorePagePaths(ctx, []ga4.PagePathRow{
		{Date: "20250301", PagePath: "/checkout", ScreenPageViews: 50, TotalUsers: 40, UserEngagementDuration: 500},
		{Date: "20250301", PagePath: "/home", ScreenPageViews: 500, TotalUsers: 300, UserEngagementDuration: 2000},
	})
	require.NoError(t, err)

	pages, err := s.PagePaths(ctx, "20250301", "20250301", 10)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "/home", pages[0].PagePath)
	assert.Equal(t, int64(500), pages[0].TotalPageviews)
}
