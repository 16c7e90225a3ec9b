// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embedding

import (
	"context"
	"log/slog"
	"time"

	"github.com/oraclewalid/croanalysis/internal/txstore"
)

// VectorSink is the subset of vectorindex.Index the worker needs, accepted
// as an interface so tests can substitute a fake in place of a live
// Weaviate connection.
type VectorSink interface {
	Upsert(ctx context.Context, responseID, projectID, comment string, vector []float32) error
}

// Worker periodically sweeps every project for survey responses awaiting
// embedding and fills them in, per generate_embeddings_for_project.
type Worker struct {
	model     Model
	store     *txstore.Store
	index     VectorSink
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
}

func NewWorker(model Model, store *txstore.Store, index VectorSink, batchSize int, interval time.Duration, logger *slog.Logger) *Worker {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Worker{model: model, store: store, index: index, batchSize: batchSize, interval: interval, logger: logger}
}

// Run blocks, sweeping every project on each tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.sweepAllProjects(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) sweepAllProjects(ctx context.Context) {
	projects, err := w.store.ListProjects(ctx)
	if err != nil {
		w.logger.Error("embedding worker: list projects failed", "error", err)
		return
	}
	for _, p := range projects {
		if ctx.Err() != nil {
			return
		}
		if err := w.ProcessProject(ctx, p.ID); err != nil {
			w.logger.Error("embedding worker: project sweep failed", "project_id", p.ID, "error", err)
		}
	}
}

// ProcessProject fetches up to batchSize pending rows for projectID, embeds
// their comments as one batch, and persists the outcome per row — a
// vector write plus EmbeddingCompleted on success, EmbeddingSkipped for an
// empty comment, EmbeddingFailed if the batch call itself errors.
func (w *Worker) ProcessProject(ctx context.Context, projectID string) error {
	pending, err := w.store.FindPendingEmbeddings(ctx, projectID, w.batchSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	w.logger.Info("embedding worker: processing pending responses", "project_id", projectID, "count", len(pending))

	comments := make([]string, len(pending))
	for i, r := range pending {
		if r.Comment != nil {
			comments[i] = *r.Comment
		}
	}

	vectors, err := w.model.EmbedBatch(ctx, comments)
	now := time.Now()
	if err != nil {
		w.logger.Error("embedding worker: batch embed failed, marking all failed", "project_id", projectID, "error", err)
		for _, r := range pending {
			if uErr := w.store.UpdateEmbeddingStatus(ctx, r.ID, txstore.EmbeddingFailed, now); uErr != nil {
				w.logger.Error("embedding worker: mark failed errored", "response_id", r.ID, "error", uErr)
			}
		}
		return err
	}

	var success, skipped, failed int
	for i, r := range pending {
		vector := vectors[i]
		if vector == nil {
			if uErr := w.store.UpdateEmbeddingStatus(ctx, r.ID, txstore.EmbeddingSkipped, now); uErr != nil {
				w.logger.Error("embedding worker: mark skipped errored", "response_id", r.ID, "error", uErr)
			}
			skipped++
			continue
		}

		if iErr := w.index.Upsert(ctx, r.ID, projectID, comments[i], vector); iErr != nil {
			w.logger.Error("embedding worker: vector upsert failed", "response_id", r.ID, "error", iErr)
			if uErr := w.store.UpdateEmbeddingStatus(ctx, r.ID, txstore.EmbeddingFailed, now); uErr != nil {
				w.logger.Error("embedding worker: mark failed errored", "response_id", r.ID, "error", uErr)
			}
			failed++
			continue
		}

		if uErr := w.store.UpdateEmbeddingStatus(ctx, r.ID, txstore.EmbeddingCompleted, now); uErr != nil {
			w.logger.Error("embedding worker: mark completed errored", "response_id", r.ID, "error", uErr)
			failed++
			continue
		}
		success++
	}

	w.logger.Info("embedding worker: project sweep complete",
		"project_id", projectID, "success", success, "skipped", skipped, "failed", failed)
	return nil
}
