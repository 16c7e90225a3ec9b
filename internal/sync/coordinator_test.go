// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sync

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oraclewalid/croanalysis/internal/ga4"
	"github.com/oraclewalid/croanalysis/internal/txstore"
)

type fakeGA4 struct {
	eventsWindow    ga4.PullWindow
	pagePathsWindow ga4.PullWindow
	events          []ga4.EventRow
	pagePaths       []ga4.PagePathRow
}

func (f *fakeGA4) PullEvents(_ context.Context, _, _, _ string, window ga4.PullWindow) ([]ga4.EventRow, error) {
	f.eventsWindow = window
	return f.events, nil
}

func (f *fakeGA4) PullPagePaths(_ context.Context, _, _, _ string, window ga4.PullWindow) ([]ga4.PagePathRow, error) {
	f.pagePathsWindow = window
	return f.pagePaths, nil
}

func newTestStore(t *testing.T) *txstore.Store {
	s, err := txstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSyncUsesBackfillWindowOnFirstRun(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	p, err := store.CreateProject(ctx, "Acme", nil)
	require.NoError(t, err)
	conn, err := store.CreateConnector(ctx, p.ID, "ga4-main", txstore.ConnectorKindGA4)
	require.NoError(t, err)

	basePath := t.TempDir()
	g := &fakeGA4{
		events:    []ga4.EventRow{{Date: "20260101", EventName: "page_view", ActiveUsers: 1}},
		pagePaths: []ga4.PagePathRow{{Date: "20260101", PagePath: "/", ScreenPageViews: 1}},
	}

	coord := New(g, store, basePath, 2, 90, slog.Default())
	report, err := coord.Sync(ctx, p.ID, conn.ID, "properties/123", nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Events.RecordCount)
	require.Equal(t, 1, report.PagePaths.RecordCount)

	now := time.Now().UTC()
	require.WithinDuration(t, now.AddDate(0, 0, -90), g.eventsWindow.Start, 5*time.Second)
	require.WithinDuration(t, now.AddDate(0, 0, -90), g.pagePathsWindow.Start, 5*time.Second)

	refreshed, err := store.GetConnector(ctx, conn.ID)
	require.NoError(t, err)
	require.NotNil(t, refreshed.LastSync, "a successful sync must touch last_sync")
}

func TestSyncUsesLookbackWindowWhenDataAlreadyStored(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	p, err := store.CreateProject(ctx, "Acme", nil)
	require.NoError(t, err)
	conn, err := store.CreateConnector(ctx, p.ID, "ga4-main", txstore.ConnectorKindGA4)
	require.NoError(t, err)

	basePath := t.TempDir()
	firstRun := &fakeGA4{
		events:    []ga4.EventRow{{Date: "20260201", EventName: "page_view", ActiveUsers: 1}},
		pagePaths: []ga4.PagePathRow{{Date: "20260201", PagePath: "/", ScreenPageViews: 1}},
	}
	coord := New(firstRun, store, basePath, 2, 90, slog.Default())
	_, err = coord.Sync(ctx, p.ID, conn.ID, "properties/123", nil)
	require.NoError(t, err)

	secondRun := &fakeGA4{}
	coord2 := New(secondRun, store, basePath, 2, 90, slog.Default())
	_, err = coord2.Sync(ctx, p.ID, conn.ID, "properties/123", nil)
	require.NoError(t, err)

	expectedStart, err := time.Parse(dateLayout, "20260201")
	require.NoError(t, err)
	expectedStart = expectedStart.AddDate(0, 0, -2)
	require.True(t, secondRun.eventsWindow.Start.Equal(expectedStart), "events window should start lookbackDays before the max stored event date")
	require.True(t, secondRun.pagePathsWindow.Start.Equal(expectedStart), "page path window should start lookbackDays before the max stored page path date")
}

func TestSyncDoesNotTouchLastSyncOnPullFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	p, err := store.CreateProject(ctx, "Acme", nil)
	require.NoError(t, err)
	conn, err := store.CreateConnector(ctx, p.ID, "ga4-main", txstore.ConnectorKindGA4)
	require.NoError(t, err)

	basePath := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Dir(basePath), 0o755))

	coord := New(&failingGA4{}, store, basePath, 2, 90, slog.Default())
	_, err = coord.Sync(ctx, p.ID, conn.ID, "properties/123", nil)
	require.Error(t, err)

	refreshed, err := store.GetConnector(ctx, conn.ID)
	require.NoError(t, err)
	require.Nil(t, refreshed.LastSync, "a failed sync must not advance the watermark")
}

func TestSyncOverrideStartWinsOverComputedWindow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	p, err := store.CreateProject(ctx, "Acme", nil)
	require.NoError(t, err)
	conn, err := store.CreateConnector(ctx, p.ID, "ga4-main", txstore.ConnectorKindGA4)
	require.NoError(t, err)

	basePath := t.TempDir()
	firstRun := &fakeGA4{
		events:    []ga4.EventRow{{Date: "20260201", EventName: "page_view", ActiveUsers: 1}},
		pagePaths: []ga4.PagePathRow{{Date: "20260201", PagePath: "/", ScreenPageViews: 1}},
	}
	coord := New(firstRun, store, basePath, 2, 90, slog.Default())
	_, err = coord.Sync(ctx, p.ID, conn.ID, "properties/123", nil)
	require.NoError(t, err)

	// Without an override, the second sync would use the lookback window
	// (20260201 - 2 days). An override_start should win over that instead.
	override, err := time.Parse(dateLayout, "20250101")
	require.NoError(t, err)

	secondRun := &fakeGA4{}
	coord2 := New(secondRun, store, basePath, 2, 90, slog.Default())
	_, err = coord2.Sync(ctx, p.ID, conn.ID, "properties/123", &override)
	require.NoError(t, err)

	require.True(t, secondRun.eventsWindow.Start.Equal(override), "override_start should replace the computed events window start")
	require.True(t, secondRun.pagePathsWindow.Start.Equal(override), "override_start should replace the computed page path window start")
}

type failingGA4 struct{}

func (failingGA4) PullEvents(context.Context, string, string, string, ga4.PullWindow) ([]ga4.EventRow, error) {
	return nil, os.ErrDeadlineExceeded
}

func (failingGA4) PullPagePaths(context.Context, string, string, string, ga4.PullWindow) ([]ga4.PagePathRow, error) {
	return nil, os.ErrDeadlineExceeded
}
