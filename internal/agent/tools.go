// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent runs the ReAct tool-calling loop that turns a project's
// synced analytics and survey data into a CRO Analysis Report. The
// tool-calling client follows services/llm/openai_llm.go's OpenAIClient: a
// thin wrapper over sashabaranov/go-openai's ChatCompletion call,
// generalized here from a single prompt/response exchange to a multi-turn
// loop with native tool calls, following services/trace/agent/loop.go's
// AgentLoop/Session shape (simplified: one linear state — running, not
// that package's full INIT/PLAN/EXECUTE/REFLECT/CLARIFY state machine,
// since a report run has no clarification step).
package agent

import (
	"context"
	"encoding/json"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/oraclewalid/croanalysis/internal/columnar"
	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
	"github.com/oraclewalid/croanalysis/internal/query"
	"github.com/oraclewalid/croanalysis/internal/txstore"
)

// ToolName enumerates the Agent Tool Surface.
const (
	ToolGetFunnelOverview    = "get_funnel_overview"
	ToolComparePeriods       = "compare_periods"
	ToolGetPagePaths         = "get_page_paths"
	ToolGetDropOffPoints     = "get_drop_off_points"
	ToolSearchSurveyComments = "search_survey_comments"
	ToolGetSurveyByPeriod    = "get_survey_by_period"
	ToolGetSurveyStats       = "get_survey_stats"
	ToolGetFeedbackThemes    = "get_feedback_themes"
	ToolSubmitReport         = "submit_report"
)

func tools() []openai.Tool {
	def := func(name, description string, params map[string]any) openai.Tool {
		return openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        name,
				Description: description,
				Parameters:  params,
			},
		}
	}
	dateProp := map[string]any{"type": "string", "description": "YYYYMMDD"}
	dimensionProp := map[string]any{
		"type":        "string",
		"description": "optional breakdown dimension",
		"enum":        []string{"all", "device_category", "country", "browser", "operating_system", "screen_resolution"},
	}

	return []openai.Tool{
		def(ToolGetFunnelOverview, "Return the configured funnel stages with conversion and drop-off rates over a date range.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"start_date": dateProp,
				"end_date":   dateProp,
				"dimension":  dimensionProp,
			},
			"required": []string{"start_date", "end_date"},
		}),
		def(ToolComparePeriods, "Compare funnel stage conversion between two date ranges.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"current_start":  dateProp,
				"current_end":    dateProp,
				"previous_start": dateProp,
				"previous_end":   dateProp,
				"dimension":      dimensionProp,
			},
			"required": []string{"current_start", "current_end", "previous_start", "previous_end"},
		}),
		def(ToolGetPagePaths, "Return the top page paths ranked by pageviews over a date range.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"start_date": dateProp,
				"end_date":   dateProp,
				"limit":      map[string]any{"type": "integer", "description": "max rows, default 20"},
			},
			"required": []string{"start_date", "end_date"},
		}),
		def(ToolGetDropOffPoints, "Return only the funnel stages that lost users, worst drop-off first.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"start_date": dateProp,
				"end_date":   dateProp,
				"dimension":  dimensionProp,
				"limit":      map[string]any{"type": "integer", "description": "max stages returned, default all"},
			},
			"required": []string{"start_date", "end_date"},
		}),
		def(ToolSearchSurveyComments, "Semantically search survey comments by meaning, not keyword.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query_text": map[string]any{"type": "string", "description": "free-text description of what to search for"},
				"limit":      map[string]any{"type": "integer", "description": "max hits, default 20"},
			},
			"required": []string{"query_text"},
		}),
		def(ToolGetSurveyByPeriod, "Return raw survey comments within a date range.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"start_date": dateProp,
				"end_date":   dateProp,
				"limit":      map[string]any{"type": "integer", "description": "max rows, default 50"},
			},
			"required": []string{"start_date", "end_date"},
		}),
		def(ToolGetSurveyStats, "Return aggregate survey statistics: total responses, average rating, response date range.", map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}),
		def(ToolGetFeedbackThemes, "Return the cached or freshly generated LLM theme/sentiment/issue analysis of all survey comments.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"force": map[string]any{"type": "boolean", "description": "bypass the 24h cache and regenerate"},
			},
		}),
		def(ToolSubmitReport, "Submit the final CRO analysis report. Call this exactly once, after gathering enough evidence from the other tools.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"executive_summary": map[string]any{"type": "string"},
				"funnel_analysis": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"overview": map[string]any{"type": "string"},
						"critical_drop_offs": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"stage":               map[string]any{"type": "string"},
									"drop_rate":           map[string]any{"type": "number"},
									"severity":            map[string]any{"type": "string", "enum": []string{"critical", "major", "minor"}},
									"correlated_feedback": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
								},
								"required": []string{"stage", "drop_rate", "severity", "correlated_feedback"},
							},
						},
					},
					"required": []string{"overview", "critical_drop_offs"},
				},
				"qualitative_insights": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"overview": map[string]any{"type": "string"},
						"themes_with_data": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"theme":             map[string]any{"type": "string"},
									"sentiment":         map[string]any{"type": "string", "enum": []string{"positive", "negative", "mixed"}},
									"supporting_quotes": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
									"related_metrics":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
								},
								"required": []string{"theme", "sentiment", "supporting_quotes", "related_metrics"},
							},
						},
					},
					"required": []string{"overview", "themes_with_data"},
				},
				"recommendations": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"title":               map[string]any{"type": "string"},
							"priority":            map[string]any{"type": "string", "enum": []string{"high", "medium", "low"}},
							"category":            map[string]any{"type": "string"},
							"description":         map[string]any{"type": "string"},
							"supporting_evidence": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
							"expected_impact":     map[string]any{"type": "string"},
						},
						"required": []string{"title", "priority", "category", "description", "supporting_evidence", "expected_impact"},
					},
				},
			},
			"required": []string{"executive_summary", "funnel_analysis", "qualitative_insights", "recommendations"},
		}),
	}
}

// dispatcher executes every tool call except submit_report (the loop
// intercepts that one directly, since it ends the run rather than feeding
// a result back to the model).
type dispatcher struct {
	engine      *query.Engine
	feedback    FeedbackService
	projectID   string
	connectorID string
}

// FeedbackService is the subset of feedback.Service the agent needs.
type FeedbackService interface {
	Generate(ctx context.Context, projectID string, force bool) (*txstore.FeedbackAnalysis, error)
}

func (d *dispatcher) call(ctx context.Context, name, argsJSON string) (string, error) {
	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", coreerrors.BadRequest("tool arguments are not valid JSON: " + err.Error())
		}
	}

	switch name {
	case ToolGetFunnelOverview:
		dim := columnar.Dimension(strOr(args, "dimension", "all"))
		stages, err := d.engine.Funnel(ctx, d.projectID, d.connectorID, dim, strArg(args, "start_date"), strArg(args, "end_date"))
		return marshal(stages, err)

	case ToolComparePeriods:
		dim := columnar.Dimension(strOr(args, "dimension", "all"))
		comparisons, err := d.engine.ComparePeriods(ctx, d.projectID, d.connectorID, dim,
			strArg(args, "current_start"), strArg(args, "current_end"), strArg(args, "previous_start"), strArg(args, "previous_end"))
		return marshal(comparisons, err)

	case ToolGetPagePaths:
		limit := intOr(args, "limit", 20)
		rows, err := d.engine.PagePaths(ctx, d.projectID, d.connectorID, strArg(args, "start_date"), strArg(args, "end_date"), limit)
		return marshal(rows, err)

	case ToolGetDropOffPoints:
		dim := columnar.Dimension(strOr(args, "dimension", "all"))
		limit := intOr(args, "limit", 0)
		points, err := d.engine.DropOffPoints(ctx, d.projectID, d.connectorID, dim, strArg(args, "start_date"), strArg(args, "end_date"), limit)
		return marshal(points, err)

	case ToolSearchSurveyComments:
		limit := intOr(args, "limit", 20)
		hits, err := d.engine.SearchComments(ctx, d.projectID, strArg(args, "query_text"), limit)
		return marshal(hits, err)

	case ToolGetSurveyByPeriod:
		limit := int64(intOr(args, "limit", 50))
		start, err1 := parseDate(strArg(args, "start_date"))
		end, err2 := parseDate(strArg(args, "end_date"))
		if err1 != nil {
			return "", err1
		}
		if err2 != nil {
			return "", err2
		}
		comments, err := d.engine.SurveyByPeriod(ctx, d.projectID, start, end, limit)
		return marshal(comments, err)

	case ToolGetSurveyStats:
		stats, err := d.engine.SurveyStats(ctx, d.projectID)
		return marshal(stats, err)

	case ToolGetFeedbackThemes:
		if d.feedback == nil {
			return "", coreerrors.New(coreerrors.KindUpstreamUnavailable, "feedback analysis is not configured")
		}
		force, _ := args["force"].(bool)
		analysis, err := d.feedback.Generate(ctx, d.projectID, force)
		return marshal(analysis, err)

	default:
		return "", coreerrors.BadRequest("unknown tool: " + name)
	}
}

func marshal(v any, err error) (string, error) {
	if err != nil {
		return "", err
	}
	b, mErr := json.Marshal(v)
	if mErr != nil {
		return "", mErr
	}
	return truncateToBudget(string(b), toolResultTokenBudget), nil
}

func strArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func strOr(args map[string]any, key, fallback string) string {
	if s, ok := args[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func intOr(args map[string]any, key string, fallback int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return fallback
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return time.Time{}, coreerrors.BadRequest("invalid date, expected YYYYMMDD: " + s)
	}
	return t, nil
}
