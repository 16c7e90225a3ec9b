// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package feedback

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oraclewalid/croanalysis/internal/txstore"
)

type fakeCaller struct {
	calls  int
	result Result
	err    error
}

func (f *fakeCaller) Analyze(_ context.Context, _ []txstore.CommentForAnalysis) (Result, error) {
	f.calls++
	return f.result, f.err
}

func newTestStore(t *testing.T) *txstore.Store {
	s, err := txstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedComments(t *testing.T, tx *txstore.Store, projectID string, n int) {
	t.Helper()
	rows := make([]txstore.SurveyResponse, n)
	for i := range rows {
		comment := "comment text"
		rows[i] = txstore.SurveyResponse{Comment: &comment, Raw: "{}"}
	}
	_, err := tx.InsertSurveyResponses(context.Background(), projectID, rows)
	require.NoError(t, err)
}

func TestGenerateRejectsBelowMinimumCommentCount(t *testing.T) {
	tx := newTestStore(t)
	p, err := tx.CreateProject(context.Background(), "Acme", nil)
	require.NoError(t, err)
	seedComments(t, tx, p.ID, 2)

	svc := NewService(tx, &fakeCaller{}, slog.Default())
	_, err = svc.Generate(context.Background(), p.ID, false)
	require.Error(t, err)
}

func TestGenerateCallsLLMAndCachesResult(t *testing.T) {
	tx := newTestStore(t)
	p, err := tx.CreateProject(context.Background(), "Acme", nil)
	require.NoError(t, err)
	seedComments(t, tx, p.ID, 6)

	caller := &fakeCaller{result: Result{
		Analysis:  StructuredAnalysis{SentimentBreakdown: SentimentBreakdown{PositivePct: 100}},
		Narrative: "Overall positive feedback.",
		ModelUsed: "test-model",
	}}
	svc := NewService(tx, caller, slog.Default())

	record, err := svc.Generate(context.Background(), p.ID, false)
	require.NoError(t, err)
	require.Equal(t, 1, caller.calls)
	require.Equal(t, "Overall positive feedback.", record.Narrative)

	second, err := svc.Generate(context.Background(), p.ID, false)
	require.NoError(t, err)
	require.Equal(t, 1, caller.calls, "a fresh cache entry should short-circuit the second call")
	require.Equal(t, record.Narrative, second.Narrative)
}

func TestGenerateForceBypassesCache(t *testing.T) {
	tx := newTestStore(t)
	p, err := tx.CreateProject(context.Background(), "Acme", nil)
	require.NoError(t, err)
	seedComments(t, tx, p.ID, 6)

	caller := &fakeCaller{result: Result{Narrative: "first"}}
	svc := NewService(tx, caller, slog.Default())
	_, err = svc.Generate(context.Background(), p.ID, false)
	require.NoError(t, err)

	caller.result = Result{Narrative: "second"}
	record, err := svc.Generate(context.Background(), p.ID, true)
	require.NoError(t, err)
	require.Equal(t, 2, caller.calls)
	require.Equal(t, "second", record.Narrative)
}
