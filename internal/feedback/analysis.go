// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package feedback runs the Feedback Analysis pipeline: gather survey
// comments, call an LLM for a structured theme/sentiment/issue breakdown,
// and cache the result and
// original_source/api/src/services/feedback_service.rs's
// generate_feedback. The LLM request/response shapes and HTTP handling
// follow services/llm/anthropic_llm.go's AnthropicClient — same Messages
// API request fields, same system/content-block parsing — generalized
// from a chat-completion string return to a themed JSON analysis.
package feedback

// StructuredAnalysis is the LLM's structured output, mirroring
// models/feedback.rs's StructuredAnalysis.
type StructuredAnalysis struct {
	Themes             []Theme            `json:"themes"`
	SentimentBreakdown SentimentBreakdown `json:"sentiment_breakdown"`
	KeyIssues          []KeyIssue         `json:"key_issues"`
	Recommendations    []Recommendation   `json:"recommendations"`
}

type Theme struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Sentiment    string   `json:"sentiment"`
	Frequency    string   `json:"frequency"`
	SampleQuotes []string `json:"sample_quotes"`
}

type SentimentBreakdown struct {
	PositivePct float64 `json:"positive_pct"`
	NegativePct float64 `json:"negative_pct"`
	NeutralPct  float64 `json:"neutral_pct"`
}

type KeyIssue struct {
	Title            string  `json:"title"`
	Severity         string  `json:"severity"`
	Description      string  `json:"description"`
	AffectedUsersPct float64 `json:"affected_users_pct"`
}

type Recommendation struct {
	Title          string `json:"title"`
	Priority       string `json:"priority"`
	Description    string `json:"description"`
	ExpectedImpact string `json:"expected_impact"`
}

// Result is what generate_feedback returns to its caller before caching.
type Result struct {
	Analysis     StructuredAnalysis
	Narrative    string
	ModelUsed    string
	InputTokens  *int
	OutputTokens *int
	DurationMs   int
}
