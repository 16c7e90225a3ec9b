// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package columnar

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/oraclewalid/croanalysis/internal/config"
	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
)

// Dimension is the optional breakdown column for funnel and scroll-depth
// queries. Page-path queries take no dimension: ga4_page_paths has no
// dimension columns.
type Dimension string

const (
	DimensionAll              Dimension = "all"
	DimensionDeviceCategory   Dimension = "device_category"
	DimensionCountry          Dimension = "country"
	DimensionBrowser          Dimension = "browser"
	DimensionOperatingSystem  Dimension = "operating_system"
	DimensionScreenResolution Dimension = "screen_resolution"
)

func (d Dimension) sqlExpr() (string, error) {
	switch d {
	case "", DimensionAll:
		return "'ALL'", nil
	case DimensionDeviceCategory, DimensionCountry, DimensionBrowser, DimensionOperatingSystem, DimensionScreenResolution:
		return string(d), nil
	default:
		return "", coreerrors.BadRequest("unknown dimension: " + string(d))
	}
}

// FunnelStage is one row of a funnel query result: one stage, optionally
// broken down by dimension value.
type FunnelStage struct {
	StageOrder             int
	Dimension              string
	StageName              string
	TotalUsers             int64
	TotalInteractions      int64
	PrevStageUsers         *int64
	UsersDropped           *int64
	DropoffPct             *float64
	ConversionFromStartPct *float64
	StageConversionPct     *float64
	Ranking                int64
}

// Funnel computes the configured funnel stages over [startDate,endDate],
// grounded on funnel_repository.rs's query_funnel but generalized to the
// configurable stage list from internal/config rather than the original's
// fixed 8-stage hardcoded CASE expression, and ranked by users_dropped
// descending (tie-break: stage index ascending) rather than total_users
// descending.
func (s *Store) Funnel(ctx context.Context, stages []config.FunnelStageDef, dim Dimension, startDate, endDate string) ([]FunnelStage, error) {
	if len(stages) == 0 {
		return nil, coreerrors.BadRequest("funnel requires at least one stage")
	}
	dimExpr, err := dim.sqlExpr()
	if err != nil {
		return nil, err
	}

	var nameCase, orderCase strings.Builder
	for i, st := range stages {
		event := sqlLiteral(st.EventName)
		name := sqlLiteral(st.Name)
		fmt.Fprintf(&nameCase, " WHEN %s THEN %s", event, name)
		fmt.Fprintf(&orderCase, " WHEN %s THEN %d", name, i+1)
	}

	query := fmt.Sprintf(`
WITH event_funnel AS (
	SELECT
		%s AS dimension,
		CASE event_name%s ELSE NULL END AS funnel_stage,
		active_users AS users,
		sessions AS interactions
	FROM ga4_events
	WHERE date >= ? AND date <= ?
),
stage_aggregated AS (
	SELECT
		funnel_stage,
		dimension,
		CAST(SUM(users) AS INTEGER) AS total_users,
		CAST(SUM(interactions) AS INTEGER) AS total_interactions,
		CASE funnel_stage%s END AS stage_order
	FROM event_funnel
	WHERE funnel_stage IS NOT NULL
	GROUP BY funnel_stage, dimension
),
windowed AS (
	SELECT
		stage_order, dimension, funnel_stage, total_users, total_interactions,
		LAG(total_users) OVER w AS prev_stage_users,
		FIRST_VALUE(total_users) OVER w AS stage0_users
	FROM stage_aggregated
	WHERE stage_order IS NOT NULL
	WINDOW w AS (PARTITION BY dimension ORDER BY stage_order)
)
SELECT
	stage_order, dimension, funnel_stage, total_users, total_interactions,
	prev_stage_users,
	CASE WHEN prev_stage_users IS NULL THEN NULL ELSE prev_stage_users - total_users END AS users_dropped,
	CASE WHEN prev_stage_users IS NULL THEN NULL ELSE ROUND(100.0 * (prev_stage_users - total_users) / NULLIF(prev_stage_users, 0), 2) END AS dropoff_pct,
	ROUND(100.0 * total_users / NULLIF(stage0_users, 0), 2) AS conversion_from_start_pct,
	CASE WHEN prev_stage_users IS NULL THEN NULL ELSE ROUND(100.0 * total_users / NULLIF(prev_stage_users, 0), 2) END AS stage_conversion_pct,
	RANK() OVER (PARTITION BY dimension ORDER BY (prev_stage_users - total_users) DESC, stage_order ASC) AS ranking
FROM windowed
ORDER BY stage_order ASC, ranking ASC, dimension ASC
`, dimExpr, nameCase.String(), orderCase.String())

	rows, err := s.db.QueryContext(ctx, query, startDate, endDate)
	if err != nil {
		return nil, coreerrors.Internal("funnel query", err)
	}
	defer rows.Close()

	var out []FunnelStage
	for rows.Next() {
		var f FunnelStage
		var prev, dropped, ranking sql.NullInt64
		var dropoffPct, convStart, stageConv sql.NullFloat64
		if err := rows.Scan(&f.StageOrder, &f.Dimension, &f.StageName, &f.TotalUsers, &f.TotalInteractions,
			&prev, &dropped, &dropoffPct, &convStart, &stageConv, &ranking); err != nil {
			return nil, coreerrors.Internal("scan funnel row", err)
		}
		if prev.Valid {
			f.PrevStageUsers = &prev.Int64
		}
		if dropped.Valid {
			f.UsersDropped = &dropped.Int64
		}
		if dropoffPct.Valid {
			f.DropoffPct = &dropoffPct.Float64
		}
		if convStart.Valid {
			f.ConversionFromStartPct = &convStart.Float64
		}
		if stageConv.Valid {
			f.StageConversionPct = &stageConv.Float64
		}
		f.Ranking = ranking.Int64
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, coreerrors.Internal("iterate funnel rows", err)
	}
	return out, nil
}

// ScrollDepthBucket is one scroll-depth row, derived from scroll_25/50/75/90
// events.
type ScrollDepthBucket struct {
	Dimension      string
	Depth          string
	Events         int64
	Users          int64
	PrevStageUsers *int64
	DropOffPct     *float64
	UsersLost      *int64
}

var scrollDepthEventNames = []string{"scroll_25", "scroll_50", "scroll_75", "scroll_90", "25", "50", "75", "90"}

// ScrollDepth computes the {25,50,75,90} depth buckets and successive
// drop-off percentages, grounded on funnel_repository.rs's query_scroll_depth.
func (s *Store) ScrollDepth(ctx context.Context, dim Dimension, startDate, endDate string) ([]ScrollDepthBucket, error) {
	dimExpr, err := dim.sqlExpr()
	if err != nil {
		return nil, err
	}

	placeholders := make([]string, len(scrollDepthEventNames))
	args := make([]any, 0, len(scrollDepthEventNames)+2)
	for i, name := range scrollDepthEventNames {
		placeholders[i] = "?"
		args = append(args, name)
	}
	args = append(args, startDate, endDate)

	query := fmt.Sprintf(`
WITH scroll_data AS (
	SELECT
		%s AS dimension,
		event_name AS scroll_depth,
		CAST(SUM(sessions) AS INTEGER) AS events,
		CAST(SUM(active_users) AS INTEGER) AS users
	FROM ga4_events
	WHERE event_name IN (%s) AND date >= ? AND date <= ?
	GROUP BY dimension, event_name
),
scroll_with_lag AS (
	SELECT
		dimension, scroll_depth, events, users,
		LAG(users) OVER (PARTITION BY dimension ORDER BY
			CAST(REPLACE(REPLACE(scroll_depth, 'scroll_', ''), '%%', '') AS INTEGER)
		) AS prev_stage_users
	FROM scroll_data
)
SELECT
	dimension, scroll_depth, events, users, prev_stage_users,
	CASE WHEN prev_stage_users IS NULL THEN NULL ELSE ROUND(CAST((prev_stage_users - users) AS REAL) / prev_stage_users * 100.0, 1) END AS drop_off_pct,
	CASE WHEN prev_stage_users IS NULL THEN NULL ELSE prev_stage_users - users END AS users_lost
FROM scroll_with_lag
ORDER BY dimension, CAST(REPLACE(REPLACE(scroll_depth, 'scroll_', ''), '%%', '') AS INTEGER)
`, dimExpr, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, coreerrors.Internal("scroll depth query", err)
	}
	defer rows.Close()

	var out []ScrollDepthBucket
	for rows.Next() {
		var b ScrollDepthBucket
		var prev, lost sql.NullInt64
		var dropOff sql.NullFloat64
		if err := rows.Scan(&b.Dimension, &b.Depth, &b.Events, &b.Users, &prev, &dropOff, &lost); err != nil {
			return nil, coreerrors.Internal("scan scroll depth row", err)
		}
		if prev.Valid {
			b.PrevStageUsers = &prev.Int64
		}
		if dropOff.Valid {
			b.DropOffPct = &dropOff.Float64
		}
		if lost.Valid {
			b.UsersLost = &lost.Int64
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, coreerrors.Internal("iterate scroll depth rows", err)
	}
	return out, nil
}

// PagePathAnalytics is one aggregated page-path row.
type PagePathAnalytics struct {
	PagePath               string
	TotalPageviews         int64
	TotalUsers             int64
	TotalEngagementSeconds float64
	AvgTimePerPageviewSec  *float64
	AvgTimePerUserSec      *float64
}

// PagePaths aggregates ga4_page_paths over [startDate,endDate], ordered by
// total_pageviews descending, grounded on funnel_repository.rs's
// query_page_paths.
func (s *Store) PagePaths(ctx context.Context, startDate, endDate string, limit int) ([]PagePathAnalytics, error) {
	query := `
SELECT
	page_path,
	SUM(screen_page_views) AS total_pageviews,
	SUM(total_users) AS total_users,
	SUM(user_engagement_duration) AS total_engagement_seconds,
	ROUND(SUM(user_engagement_duration) / NULLIF(SUM(screen_page_views), 0), 2) AS avg_time_per_pageview_sec,
	ROUND(SUM(user_engagement_duration) / NULLIF(SUM(total_users), 0), 2) AS avg_time_per_user_sec
FROM ga4_page_paths
WHERE date >= ? AND date <= ?
GROUP BY page_path
ORDER BY total_pageviews DESC
`
	args := []any{startDate, endDate}
	if limit > 0 {
		query += "LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, coreerrors.Internal("page paths query", err)
	}
	defer rows.Close()

	var out []PagePathAnalytics
	for rows.Next() {
		var p PagePathAnalytics
		var avgPerView, avgPerUser sql.NullFloat64
		if err := rows.Scan(&p.PagePath, &p.TotalPageviews, &p.TotalUsers, &p.TotalEngagementSeconds, &avgPerView, &avgPerUser); err != nil {
			return nil, coreerrors.Internal("scan page path row", err)
		}
		if avgPerView.Valid {
			p.AvgTimePerPageviewSec = &avgPerView.Float64
		}
		if avgPerUser.Valid {
			p.AvgTimePerUserSec = &avgPerUser.Float64
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, coreerrors.Internal("iterate page path rows", err)
	}
	return out, nil
}

func sqlLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
