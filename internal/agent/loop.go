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
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
	"github.com/oraclewalid/croanalysis/internal/query"
	"github.com/oraclewalid/croanalysis/internal/txstore"
)

// Report is the structured payload the model hands back through the
// submit_report tool call: executive_summary plus three nested sections.
// The submit_report tool's JSON Schema parameters describe this shape to
// the model. The loop only checks that the arguments decode into Report:
// missing fields decode as zero values, and enum values are not checked.
type Report struct {
	ExecutiveSummary    string              `json:"executive_summary"`
	FunnelAnalysis      FunnelAnalysis      `json:"funnel_analysis"`
	QualitativeInsights QualitativeInsights `json:"qualitative_insights"`
	Recommendations     []Recommendation    `json:"recommendations"`
}

type FunnelAnalysis struct {
	Overview         string            `json:"overview"`
	CriticalDropOffs []CriticalDropOff `json:"critical_drop_offs"`
}

type CriticalDropOff struct {
	Stage              string   `json:"stage"`
	DropRate           float64  `json:"drop_rate"`
	Severity           string   `json:"severity"`
	CorrelatedFeedback []string `json:"correlated_feedback"`
}

type QualitativeInsights struct {
	Overview       string          `json:"overview"`
	ThemesWithData []ThemeWithData `json:"themes_with_data"`
}

type ThemeWithData struct {
	Theme            string   `json:"theme"`
	Sentiment        string   `json:"sentiment"`
	SupportingQuotes []string `json:"supporting_quotes"`
	RelatedMetrics   []string `json:"related_metrics"`
}

type Recommendation struct {
	Title              string   `json:"title"`
	Priority           string   `json:"priority"`
	Category           string   `json:"category"`
	Description        string   `json:"description"`
	SupportingEvidence []string `json:"supporting_evidence"`
	ExpectedImpact     string   `json:"expected_impact"`
}

// RunResult is what Run returns: the submitted report plus the metrics the
// caller persists onto txstore.CroReport, grounded on
// services/trace/agent/loop.go's own RunResult (trimmed to the fields this
// bounded loop actually produces — no session/state-machine bookkeeping).
type RunResult struct {
	Report         Report
	ModelUsed      string
	InputTokens    int
	OutputTokens   int
	ToolCallsCount int
	DurationMs     int
	Turns          int
}

// RunError is a structured failure, following
// services/trace/agent/loop.go's AgentError{Code,Message,Recoverable}
// shape — Recoverable marks
// whether a retry with a fresh run might succeed (true for exhaustion,
// false for a bad configuration).
type RunError struct {
	Code        string
	Message     string
	Recoverable bool
}

func (e *RunError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

const (
	codeExhausted  = "agent_exhausted"
	codeLLMFailure = "llm_failure"
	codeValidation = "validation"
)

// maxSubmitRetries bounds how many malformed submit_report attempts the loop
// will feed back to the model before giving up, per the retry budget the
// turn limit alone doesn't cover: a model that repeatedly emits invalid JSON
// could otherwise burn every remaining turn on the same mistake.
const maxSubmitRetries = 3

// OpenAIChatClient is the subset of openai.Client the loop needs, accepted
// as an interface so Run can be tested without a live OpenAI-compatible
// endpoint, following services/llm/client.go's LLMClient preference for
// narrow interfaces over a concrete *openai.Client dependency.
type OpenAIChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Loop runs the bounded ReAct tool-calling cycle that produces one CRO
// report. It owns no storage; all reads flow through query.Engine and the
// feedback service via the dispatcher, the same "accept interfaces, return
// structs" composition internal/query.Engine uses for its own dependencies.
type Loop struct {
	client      OpenAIChatClient
	model       string
	maxTurns    int
	maxTokens   int
	turnTimeout time.Duration
	logger      *slog.Logger
}

func NewLoop(client OpenAIChatClient, model string, maxTurns, maxTokens int, turnTimeout time.Duration, logger *slog.Logger) *Loop {
	if maxTurns <= 0 {
		maxTurns = 15
	}
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &Loop{client: client, model: model, maxTurns: maxTurns, maxTokens: maxTokens, turnTimeout: turnTimeout, logger: logger}
}

// Run drives the tool-calling loop for one project/connector until the
// model calls submit_report, the turn limit is reached, or an
// unrecoverable error occurs.
func (l *Loop) Run(ctx context.Context, engine *query.Engine, feedback FeedbackService, projectID, connectorID string) (RunResult, error) {
	dispatch := &dispatcher{engine: engine, feedback: feedback, projectID: projectID, connectorID: connectorID}
	toolDefs := tools()

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(connectorID)},
		{Role: openai.ChatMessageRoleUser, Content: seedMessage(projectID, connectorID)},
	}

	start := time.Now()
	var inputTokens, outputTokens, toolCalls, submitRetries int

	for turn := 1; turn <= l.maxTurns; turn++ {
		turnCtx, cancel := context.WithTimeout(ctx, l.turnTimeout)
		resp, err := l.client.CreateChatCompletion(turnCtx, openai.ChatCompletionRequest{
			Model:               l.model,
			Messages:            messages,
			Tools:               toolDefs,
			MaxCompletionTokens: l.maxTokens,
		})
		cancel()
		if err != nil {
			return RunResult{}, &RunError{Code: codeLLMFailure, Message: err.Error(), Recoverable: true}
		}
		if len(resp.Choices) == 0 {
			return RunResult{}, &RunError{Code: codeLLMFailure, Message: "LLM returned no choices", Recoverable: true}
		}

		inputTokens += resp.Usage.PromptTokens
		outputTokens += resp.Usage.CompletionTokens

		choice := resp.Choices[0]
		messages = append(messages, choice.Message)

		if len(choice.Message.ToolCalls) == 0 {
			l.logger.Warn("agent loop: turn produced no tool call, nudging toward submit_report", "turn", turn)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: "Continue investigating with a tool call, or call submit_report if you have enough evidence.",
			})
			continue
		}

		for _, call := range choice.Message.ToolCalls {
			if call.Function.Name == ToolSubmitReport {
				var report Report
				if err := json.Unmarshal([]byte(call.Function.Arguments), &report); err != nil {
					submitRetries++
					l.logger.Warn("agent loop: submit_report did not parse", "turn", turn, "attempt", submitRetries, "error", err)
					if submitRetries > maxSubmitRetries {
						return RunResult{}, &RunError{Code: codeValidation, Message: "submit_report arguments did not parse after retry budget: " + err.Error(), Recoverable: false}
					}
					messages = append(messages, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						ToolCallID: call.ID,
						Content:    fmt.Sprintf("The report JSON was invalid: %s. Please emit it again.", err.Error()),
					})
					continue
				}
				return RunResult{
					Report:         report,
					ModelUsed:      l.model,
					InputTokens:    inputTokens,
					OutputTokens:   outputTokens,
					ToolCallsCount: toolCalls,
					DurationMs:     int(time.Since(start).Milliseconds()),
					Turns:          turn,
				}, nil
			}

			toolCalls++
			result, callErr := dispatch.call(ctx, call.Function.Name, call.Function.Arguments)
			content := result
			if callErr != nil {
				content = toolErrorPayload(callErr)
				l.logger.Warn("agent loop: tool call failed", "tool", call.Function.Name, "error", callErr)
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    content,
			})
		}
	}

	return RunResult{}, &RunError{
		Code:        codeExhausted,
		Message:     fmt.Sprintf("agent did not submit a report within %d turns", l.maxTurns),
		Recoverable: true,
	}
}

func toolErrorPayload(err error) string {
	kind := coreerrors.KindInternal
	var ce *coreerrors.CoreError
	if errors.As(err, &ce) {
		kind = ce.Kind
	}
	b, _ := json.Marshal(map[string]string{"error": err.Error(), "kind": string(kind)})
	return string(b)
}

func systemPrompt(connectorID string) string {
	return fmt.Sprintf(`You are a conversion rate optimization analyst. You have tools to query a
website's GA4 funnel and page analytics and its visitor survey feedback for
connector %s. Investigate thoroughly before writing conclusions: pull the
funnel overview and drop-off points first, then look at page paths and
survey themes for qualitative context behind any drop-off you find. Cite
concrete numbers from the tool results in your analysis, and tie each
critical_drop_offs entry and themes_with_data entry back to the specific
tool results that support it. When you have enough evidence, call
submit_report exactly once with your findings. Do not call submit_report
before calling at least one analytics tool. If get_survey_stats reports zero
responses, do not call any other survey tool: produce the report from
quantitative tools alone, and leave qualitative_insights.themes_with_data
empty rather than inventing themes.`, connectorID)
}

func seedMessage(projectID, connectorID string) string {
	return fmt.Sprintf("Generate a CRO analysis report for project %s, connector %s. Cover the last 30 days unless the data suggests a different window is more informative.", projectID, connectorID)
}

// ToRecord converts a RunResult into the txstore record the caller persists.
// Each section is stored as its own JSON blob, per txstore.CroReport's
// schema-agnostic design — the caller unmarshals back into the matching
// agent.FunnelAnalysis/QualitativeInsights/[]Recommendation type.
func (r RunResult) ToRecord(projectID, connectorID string) (*txstore.CroReport, error) {
	funnelJSON, err := json.Marshal(r.Report.FunnelAnalysis)
	if err != nil {
		return nil, err
	}
	qualJSON, err := json.Marshal(r.Report.QualitativeInsights)
	if err != nil {
		return nil, err
	}
	recJSON, err := json.Marshal(r.Report.Recommendations)
	if err != nil {
		return nil, err
	}
	return &txstore.CroReport{
		ProjectID:               projectID,
		ConnectorID:             connectorID,
		CreatedAt:               time.Now(),
		ExecutiveSummary:        r.Report.ExecutiveSummary,
		FunnelAnalysisJSON:      string(funnelJSON),
		QualitativeInsightsJSON: string(qualJSON),
		RecommendationsJSON:     string(recJSON),
		ModelUsed:               r.ModelUsed,
		InputTokens:             r.InputTokens,
		OutputTokens:            r.OutputTokens,
		ToolCallsCount:          r.ToolCallsCount,
		DurationMs:              r.DurationMs,
	}, nil
}
