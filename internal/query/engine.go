// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package query composes internal/columnar's raw funnel/scroll-depth/page-path
// aggregates, internal/vectorindex's semantic comment search, and
// internal/txstore's survey tables into the read API the Agent Tool
// Surface and HTTP handlers call. It owns no storage of
// its own; every method opens the connector's Columnar Store for the
// duration of the call, the way the original's funnel_repository and
// storage_service functions are invoked per-request rather than held open.
package query

import (
	"context"
	"sort"
	"time"

	"github.com/oraclewalid/croanalysis/internal/columnar"
	"github.com/oraclewalid/croanalysis/internal/config"
	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
	"github.com/oraclewalid/croanalysis/internal/txstore"
	"github.com/oraclewalid/croanalysis/internal/vectorindex"
)

// Embedder is the subset of embedding.Model the engine needs to turn a
// free-text search query into a vector, accepted as an interface so
// search_survey_comments can be tested without a live embedding service.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorSearcher is the subset of vectorindex.Index the engine needs.
type VectorSearcher interface {
	Search(ctx context.Context, projectID string, vector []float32, limit int) ([]vectorindex.Hit, error)
}

// Engine answers every analytical read behind the HTTP surface and the
// Agent Tool Surface.
type Engine struct {
	basePath     string
	funnelStages []config.FunnelStageDef
	tx           *txstore.Store
	embedder     Embedder
	vectors      VectorSearcher
}

func New(basePath string, funnelStages []config.FunnelStageDef, tx *txstore.Store, embedder Embedder, vectors VectorSearcher) *Engine {
	return &Engine{basePath: basePath, funnelStages: funnelStages, tx: tx, embedder: embedder, vectors: vectors}
}

func (e *Engine) openStore(projectID, connectorID string) (*columnar.Store, error) {
	if !columnar.Exists(e.basePath, projectID, connectorID) {
		return nil, coreerrors.NotFound("no synced data for connector " + connectorID)
	}
	return columnar.Open(e.basePath, projectID, connectorID)
}

// Funnel returns the configured funnel stages over one window.
func (e *Engine) Funnel(ctx context.Context, projectID, connectorID string, dim columnar.Dimension, startDate, endDate string) ([]columnar.FunnelStage, error) {
	store, err := e.openStore(projectID, connectorID)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Funnel(ctx, e.funnelStages, dim, startDate, endDate)
}

// ScrollDepth returns the scroll-depth drop-off buckets over one window.
func (e *Engine) ScrollDepth(ctx context.Context, projectID, connectorID string, dim columnar.Dimension, startDate, endDate string) ([]columnar.ScrollDepthBucket, error) {
	store, err := e.openStore(projectID, connectorID)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.ScrollDepth(ctx, dim, startDate, endDate)
}

// PagePaths returns the top page paths by pageviews over one window.
func (e *Engine) PagePaths(ctx context.Context, projectID, connectorID, startDate, endDate string, limit int) ([]columnar.PagePathAnalytics, error) {
	store, err := e.openStore(projectID, connectorID)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.PagePaths(ctx, startDate, endDate, limit)
}

// DropOffPoint is one funnel stage whose drop-off rate exceeded zero,
// surfaced by get_drop_off_points, ranked worst-first.
type DropOffPoint struct {
	StageName  string
	UsersLost  int64
	DropoffPct float64
}

// DropOffPoints runs the funnel for one dimension and returns only the
// stages that lost users, worst drop-off first, capped at limit — the
// Funnel query already computes dropoff_pct per stage; this just filters
// and re-sorts the subset callers care about instead of adding a second SQL
// path.
func (e *Engine) DropOffPoints(ctx context.Context, projectID, connectorID string, dim columnar.Dimension, startDate, endDate string, limit int) ([]DropOffPoint, error) {
	stages, err := e.Funnel(ctx, projectID, connectorID, dim, startDate, endDate)
	if err != nil {
		return nil, err
	}
	var out []DropOffPoint
	for _, s := range stages {
		if s.DropoffPct == nil || *s.DropoffPct <= 0 {
			continue
		}
		var lost int64
		if s.UsersDropped != nil {
			lost = *s.UsersDropped
		}
		out = append(out, DropOffPoint{StageName: s.StageName, UsersLost: lost, DropoffPct: *s.DropoffPct})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DropoffPct > out[j].DropoffPct })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// StageComparison is one funnel stage's values across two periods.
type StageComparison struct {
	StageName     string
	CurrentUsers  int64
	PreviousUsers int64
	DeltaUsers    int64
	DeltaPct      *float64
}

// ComparePeriods runs the funnel twice and pairs up stages by name,
// grounded on the original's period_comparison field: two independent
// funnel runs, diffed in Go rather than a second SQL self-join.
func (e *Engine) ComparePeriods(ctx context.Context, projectID, connectorID string, dim columnar.Dimension,
	currentStart, currentEnd, previousStart, previousEnd string) ([]StageComparison, error) {
	current, err := e.Funnel(ctx, projectID, connectorID, dim, currentStart, currentEnd)
	if err != nil {
		return nil, err
	}
	previous, err := e.Funnel(ctx, projectID, connectorID, dim, previousStart, previousEnd)
	if err != nil {
		return nil, err
	}

	prevByStage := make(map[string]int64, len(previous))
	for _, s := range previous {
		prevByStage[s.StageName] = s.TotalUsers
	}

	out := make([]StageComparison, 0, len(current))
	for _, s := range current {
		c := StageComparison{StageName: s.StageName, CurrentUsers: s.TotalUsers}
		if prevUsers, ok := prevByStage[s.StageName]; ok {
			c.PreviousUsers = prevUsers
			c.DeltaUsers = s.TotalUsers - prevUsers
			if prevUsers != 0 {
				pct := 100.0 * float64(c.DeltaUsers) / float64(prevUsers)
				c.DeltaPct = &pct
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// SurveyByPeriod returns raw comments in a date window, for get_survey_by_period.
func (e *Engine) SurveyByPeriod(ctx context.Context, projectID string, start, end time.Time, limit int64) ([]txstore.CommentForAnalysis, error) {
	return e.tx.FindCommentsByPeriod(ctx, projectID, start, end, limit)
}

// SurveyStats returns the aggregate survey summary, for get_survey_stats.
func (e *Engine) SurveyStats(ctx context.Context, projectID string) (txstore.SurveyStats, error) {
	return e.tx.GetSurveyStats(ctx, projectID)
}

// SearchComments embeds the query text and runs a nearVector search scoped
// to projectID, for search_survey_comments. Only completed embeddings ever
// reach the vector store (internal/embedding.Worker.ProcessProject upserts a
// vector only after a successful embed), so no extra filter against txstore is needed here.
func (e *Engine) SearchComments(ctx context.Context, projectID, queryText string, limit int) ([]vectorindex.Hit, error) {
	if e.embedder == nil || e.vectors == nil {
		return nil, coreerrors.New(coreerrors.KindUpstreamUnavailable, "semantic comment search is not configured")
	}
	vectors, err := e.embedder.EmbedBatch(ctx, []string{queryText})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || vectors[0] == nil {
		return nil, coreerrors.BadRequest("query text must not be empty")
	}
	return e.vectors.Search(ctx, projectID, vectors[0], limit)
}
