// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/oraclewalid/croanalysis/internal/columnar"
	"github.com/oraclewalid/croanalysis/internal/config"
	"github.com/oraclewalid/croanalysis/internal/ga4"
	"github.com/oraclewalid/croanalysis/internal/query"
)

// scriptedClient returns one canned response per call, in order, letting
// tests drive the loop through a fixed turn sequence without a live
// OpenAI-compatible endpoint.
type scriptedClient struct {
	responses []openai.ChatCompletionResponse
	calls     int
}

func (c *scriptedClient) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if c.calls >= len(c.responses) {
		return openai.ChatCompletionResponse{}, errNoMoreResponses
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

var errNoMoreResponses = &RunError{Code: "test_exhausted", Message: "scripted client ran out of responses"}

func toolCallResponse(name, args string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Usage: openai.Usage{PromptTokens: 100, CompletionTokens: 50},
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:       "call_1",
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: name, Arguments: args},
				}},
			},
		}},
	}
}

func seedQueryStore(t *testing.T) (*query.Engine, string, string) {
	t.Helper()
	basePath := t.TempDir()
	store, err := columnar.Open(basePath, "proj-1", "conn-1")
	require.NoError(t, err)
	_, err = store.StoreEvents(context.Background(), []ga4.EventRow{
		{Date: "20260101", EventName: "page_view", ActiveUsers: 100, Sessions: 100},
		{Date: "20260101", EventName: "add_to_cart", ActiveUsers: 10, Sessions: 10},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	return query.New(basePath, config.DefaultFunnelStages(), nil, nil, nil), "proj-1", "conn-1"
}

func TestRunSubmitsReportAfterToolCalls(t *testing.T) {
	engine, projectID, connectorID := seedQueryStore(t)

	submitArgs, err := json.Marshal(Report{
		ExecutiveSummary: "Conversion drops sharply after page_view.",
		FunnelAnalysis: FunnelAnalysis{
			Overview: "page_view -> add_to_cart loses 90% of users.",
			CriticalDropOffs: []CriticalDropOff{
				{Stage: "add_to_cart", DropRate: 0.9, Severity: "critical", CorrelatedFeedback: []string{}},
			},
		},
		QualitativeInsights: QualitativeInsights{Overview: "No survey data reviewed in this run."},
		Recommendations: []Recommendation{
			{Title: "Investigate add-to-cart friction", Priority: "high", Category: "checkout", Description: "desc", SupportingEvidence: []string{}, ExpectedImpact: "higher conversion"},
		},
	})
	require.NoError(t, err)

	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse(ToolGetFunnelOverview, `{"start_date":"20260101","end_date":"20260101"}`),
		toolCallResponse(ToolSubmitReport, string(submitArgs)),
	}}

	loop := NewLoop(client, "test-model", 5, 8192, 10*time.Second, slog.Default())
	result, err := loop.Run(context.Background(), engine, nil, projectID, connectorID)
	require.NoError(t, err)
	require.Equal(t, 1, result.ToolCallsCount, "submit_report itself should not count as a data-gathering tool call result fed back")
	require.Contains(t, result.Report.ExecutiveSummary, "page_view")
	require.Equal(t, 2, result.Turns)
	require.Equal(t, 200, result.InputTokens)
	require.Equal(t, 100, result.OutputTokens)
}

func TestRunReturnsExhaustedWhenTurnLimitReachedWithoutSubmit(t *testing.T) {
	engine, projectID, connectorID := seedQueryStore(t)

	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse(ToolGetFunnelOverview, `{"start_date":"20260101","end_date":"20260101"}`),
		toolCallResponse(ToolGetFunnelOverview, `{"start_date":"20260101","end_date":"20260101"}`),
	}}

	loop := NewLoop(client, "test-model", 2, 8192, 10*time.Second, slog.Default())
	_, err := loop.Run(context.Background(), engine, nil, projectID, connectorID)
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, codeExhausted, runErr.Code)
	require.True(t, runErr.Recoverable)
}

func TestRunRetriesInvalidSubmitArgumentsBeforeGivingUp(t *testing.T) {
	engine, projectID, connectorID := seedQueryStore(t)

	// maxSubmitRetries malformed attempts should be fed back to the model as
	// tool results rather than failing the run immediately; only the attempt
	// past the budget surfaces as an unrecoverable error.
	responses := make([]openai.ChatCompletionResponse, 0, maxSubmitRetries+1)
	for i := 0; i <= maxSubmitRetries; i++ {
		responses = append(responses, toolCallResponse(ToolSubmitReport, `{not valid json`))
	}
	client := &scriptedClient{responses: responses}

	loop := NewLoop(client, "test-model", maxSubmitRetries+2, 8192, 10*time.Second, slog.Default())
	_, err := loop.Run(context.Background(), engine, nil, projectID, connectorID)
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, codeValidation, runErr.Code)
	require.False(t, runErr.Recoverable)
	require.Equal(t, maxSubmitRetries+1, client.calls, "should have retried the full budget before giving up")
}

func TestRunSubmitsReportAfterOneInvalidRetry(t *testing.T) {
	engine, projectID, connectorID := seedQueryStore(t)

	submitArgs, err := json.Marshal(Report{
		ExecutiveSummary: "Conversion drops sharply after page_view.",
		FunnelAnalysis: FunnelAnalysis{
			Overview: "page_view -> add_to_cart loses 90% of users.",
		},
		QualitativeInsights: QualitativeInsights{Overview: "No survey data reviewed in this run."},
		Recommendations:     []Recommendation{},
	})
	require.NoError(t, err)

	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse(ToolSubmitReport, `{not valid json`),
		toolCallResponse(ToolSubmitReport, string(submitArgs)),
	}}

	loop := NewLoop(client, "test-model", 5, 8192, 10*time.Second, slog.Default())
	result, err := loop.Run(context.Background(), engine, nil, projectID, connectorID)
	require.NoError(t, err)
	require.Contains(t, result.Report.ExecutiveSummary, "page_view")
}

func TestToRecordMarshalsReportSections(t *testing.T) {
	result := RunResult{
		Report: Report{
			ExecutiveSummary:    "summary",
			FunnelAnalysis:      FunnelAnalysis{Overview: "funnel"},
			QualitativeInsights: QualitativeInsights{Overview: "qual"},
			Recommendations:     []Recommendation{{Title: "rec"}},
		},
		ModelUsed:      "test-model",
		InputTokens:    10,
		OutputTokens:   20,
		ToolCallsCount: 3,
		DurationMs:     500,
	}
	record, err := result.ToRecord("proj-1", "conn-1")
	require.NoError(t, err)
	require.Equal(t, "proj-1", record.ProjectID)
	require.Equal(t, "summary", record.ExecutiveSummary)

	var funnel FunnelAnalysis
	require.NoError(t, json.Unmarshal([]byte(record.FunnelAnalysisJSON), &funnel))
	require.Equal(t, "funnel", funnel.Overview)
}
