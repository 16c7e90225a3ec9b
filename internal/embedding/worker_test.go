// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embedding

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oraclewalid/croanalysis/internal/txstore"
)

type fakeModel struct {
	fn func(texts []string) ([][]float32, error)
}

func (f *fakeModel) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	return f.fn(texts)
}

type fakeSink struct {
	mu      sync.Mutex
	stored  map[string][]float32
	failIDs map[string]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{stored: map[string][]float32{}, failIDs: map[string]bool{}}
}

func (f *fakeSink) Upsert(_ context.Context, responseID, _ string, _ string, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[responseID] {
		return errors.New("sink unavailable")
	}
	f.stored[responseID] = vector
	return nil
}

func newTestStore(t *testing.T) *txstore.Store {
	s, err := txstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestProcessProjectEmbedsSkipsAndMarksCompleted(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	p, err := store.CreateProject(ctx, "Acme", nil)
	require.NoError(t, err)

	withComment := "great checkout experience"
	empty := ""
	_, err = store.InsertSurveyResponses(ctx, p.ID, []txstore.SurveyResponse{
		{Comment: &withComment, Raw: "{}"},
		{Comment: &empty, Raw: "{}"},
	})
	require.NoError(t, err)

	model := &fakeModel{fn: func(texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			if text == "" {
				continue
			}
			out[i] = []float32{0.1, 0.2, 0.3}
		}
		return out, nil
	}}
	sink := newFakeSink()

	w := NewWorker(model, store, sink, 10, time.Second, slog.Default())
	require.NoError(t, w.ProcessProject(ctx, p.ID))

	pending, err := store.FindPendingEmbeddings(ctx, p.ID, 0)
	require.NoError(t, err)
	require.Empty(t, pending, "no responses should remain pending after a successful sweep")

	require.Len(t, sink.stored, 1, "only the non-empty comment should reach the vector sink")
}

func TestProcessProjectMarksAllFailedOnBatchError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	p, err := store.CreateProject(ctx, "Acme", nil)
	require.NoError(t, err)
	comment := "slow page load"
	_, err = store.InsertSurveyResponses(ctx, p.ID, []txstore.SurveyResponse{{Comment: &comment, Raw: "{}"}})
	require.NoError(t, err)

	model := &fakeModel{fn: func([]string) ([][]float32, error) {
		return nil, errors.New("embedding service unreachable")
	}}

	w := NewWorker(model, store, newFakeSink(), 10, time.Second, slog.Default())
	require.Error(t, w.ProcessProject(ctx, p.ID))

	pending, err := store.FindPendingEmbeddings(ctx, p.ID, 0)
	require.NoError(t, err)
	require.Empty(t, pending, "failed rows must leave the pending queue, not retry forever in a tight loop")
}
