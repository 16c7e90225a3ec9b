// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sync pulls GA4 data for one connector into its Columnar Store. It
// wires together internal/ga4 (the upstream call) and internal/columnar
// (the persisted write path), computing the pull window the way
// original_source/api/src/services/storage_service.rs's
// get_incremental_start_date does: a fixed backfill on first sync, a
// short lookback from the last stored date on every sync after.
package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/oraclewalid/croanalysis/internal/columnar"
	"github.com/oraclewalid/croanalysis/internal/ga4"
	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
	"github.com/oraclewalid/croanalysis/internal/txstore"
)

const dateLayout = "20060102"

// GA4Puller is the subset of ga4.Client the coordinator needs, accepted as
// an interface so tests can substitute canned report rows.
type GA4Puller interface {
	PullEvents(ctx context.Context, projectID, connectorID, propertyID string, window ga4.PullWindow) ([]ga4.EventRow, error)
	PullPagePaths(ctx context.Context, projectID, connectorID, propertyID string, window ga4.PullWindow) ([]ga4.PagePathRow, error)
}

// Coordinator runs one pull-and-store cycle per connector.
type Coordinator struct {
	ga4          GA4Puller
	tx           *txstore.Store
	basePath     string
	lookbackDays int
	backfillDays int
	logger       *slog.Logger
}

func New(ga4Client GA4Puller, tx *txstore.Store, basePath string, lookbackDays, backfillDays int, logger *slog.Logger) *Coordinator {
	if lookbackDays <= 0 {
		lookbackDays = 2
	}
	if backfillDays <= 0 {
		backfillDays = 90
	}
	return &Coordinator{ga4: ga4Client, tx: tx, basePath: basePath, lookbackDays: lookbackDays, backfillDays: backfillDays, logger: logger}
}

// Report summarizes one Sync call for the caller (an HTTP handler or CLI
// command) to surface to the user.
type Report struct {
	Events    columnar.Result
	PagePaths columnar.Result
}

// Sync pulls and stores both report types for one connector, then touches
// the connector's last_sync timestamp only if both writes succeeded —
// a half-written sync must not advance the watermark, or the next
// incremental pull would silently skip the gap. overrideStart, when
// non-nil, replaces the computed window's start date for both report
// types (spec.md's pull window table: "override_start provided" always
// wins over both the first-sync backfill and the incremental lookback).
func (c *Coordinator) Sync(ctx context.Context, projectID, connectorID, propertyID string, overrideStart *time.Time) (Report, error) {
	store, err := columnar.Open(c.basePath, projectID, connectorID)
	if err != nil {
		return Report{}, err
	}
	defer store.Close()

	now := time.Now().UTC()

	eventsWindow, err := c.pullWindow(ctx, store.MaxEventDate, now, overrideStart)
	if err != nil {
		return Report{}, err
	}
	c.logger.Info("sync: pulling events", "project_id", projectID, "connector_id", connectorID,
		"start", eventsWindow.Start.Format(dateLayout), "end", eventsWindow.End.Format(dateLayout))
	eventRows, err := c.ga4.PullEvents(ctx, projectID, connectorID, propertyID, eventsWindow)
	if err != nil {
		return Report{}, err
	}
	eventsResult, err := store.StoreEvents(ctx, eventRows)
	if err != nil {
		return Report{}, err
	}

	pagePathsWindow, err := c.pullWindow(ctx, store.MaxPagePathDate, now, overrideStart)
	if err != nil {
		return Report{}, err
	}
	c.logger.Info("sync: pulling page paths", "project_id", projectID, "connector_id", connectorID,
		"start", pagePathsWindow.Start.Format(dateLayout), "end", pagePathsWindow.End.Format(dateLayout))
	pagePathRows, err := c.ga4.PullPagePaths(ctx, projectID, connectorID, propertyID, pagePathsWindow)
	if err != nil {
		return Report{}, err
	}
	pagePathsResult, err := store.StorePagePaths(ctx, pagePathRows)
	if err != nil {
		return Report{}, err
	}

	if err := c.tx.TouchLastSync(ctx, connectorID, now); err != nil {
		return Report{}, coreerrors.Internal("touch last_sync after successful pull", err)
	}

	return Report{Events: eventsResult, PagePaths: pagePathsResult}, nil
}

func (c *Coordinator) pullWindow(ctx context.Context, maxDate func(context.Context) (string, bool, error), now time.Time, overrideStart *time.Time) (ga4.PullWindow, error) {
	end := now
	if overrideStart != nil {
		return ga4.PullWindow{Start: *overrideStart, End: end}, nil
	}
	maxDateStr, ok, err := maxDate(ctx)
	if err != nil {
		return ga4.PullWindow{}, err
	}
	if !ok {
		return ga4.PullWindow{Start: now.AddDate(0, 0, -c.backfillDays), End: end}, nil
	}
	parsed, err := time.Parse(dateLayout, maxDateStr)
	if err != nil {
		c.logger.Warn("sync: failed to parse stored max date, falling back to backfill window", "max_date", maxDateStr, "error", err)
		return ga4.PullWindow{Start: now.AddDate(0, 0, -c.backfillDays), End: end}, nil
	}
	return ga4.PullWindow{Start: parsed.AddDate(0, 0, -c.lookbackDays), End: end}, nil
}
