// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oraclewalid/croanalysis/internal/txstore"
)

const (
	anthropicAPIVersion = "2023-06-01"
	maxOutputTokens     = 4096
)

// Caller issues one structured-analysis request to the configured LLM and
// returns its parsed JSON payload alongside token usage.
type Caller interface {
	Analyze(ctx context.Context, comments []txstore.CommentForAnalysis) (Result, error)
}

type anthropicCaller struct {
	httpClient  *http.Client
	baseURL     string
	bearerToken string
	model       string
}

func NewCaller(baseURL, bearerToken, model string) Caller {
	return &anthropicCaller{
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		baseURL:     baseURL,
		bearerToken: bearerToken,
		model:       model,
	}
}

type messagesRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    []systemBlock      `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type systemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	Content []contentBlock  `json:"content"`
	Usage   usage           `json:"usage"`
	Error   *anthropicError `json:"error,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Analyze calls the LLM with the survey-feedback system prompt and a
// formatted comment dump, parses the themed JSON it returns, and reports
// token usage for caller-side billing/metrics.
func (c *anthropicCaller) Analyze(ctx context.Context, comments []txstore.CommentForAnalysis) (Result, error) {
	if c.bearerToken == "" {
		return Result{}, fmt.Errorf("LLM bearer token is not configured")
	}

	payload := messagesRequest{
		Model:     c.model,
		MaxTokens: maxOutputTokens,
		System:    []systemBlock{{Type: "text", Text: systemPrompt}},
		Messages:  []anthropicMessage{{Role: "user", Content: buildUserMessage(comments)}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal feedback analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build feedback analysis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call LLM: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read LLM response: %w", err)
	}
	duration := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("LLM returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out messagesResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Result{}, fmt.Errorf("parse LLM response: %w", err)
	}
	if out.Error != nil {
		return Result{}, fmt.Errorf("LLM error: %s - %s", out.Error.Type, out.Error.Message)
	}

	var rawText strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			rawText.WriteString(block.Text)
		}
	}
	if rawText.Len() == 0 {
		return Result{}, fmt.Errorf("LLM returned no text content")
	}

	analysis, narrative, err := parseAnalysisResponse(rawText.String())
	if err != nil {
		return Result{}, err
	}

	inputTokens := out.Usage.InputTokens
	outputTokens := out.Usage.OutputTokens
	slog.Info("feedback analysis: LLM call complete",
		"input_tokens", inputTokens, "output_tokens", outputTokens, "duration_ms", duration.Milliseconds())

	return Result{
		Analysis:     analysis,
		Narrative:    narrative,
		ModelUsed:    c.model,
		InputTokens:  &inputTokens,
		OutputTokens: &outputTokens,
		DurationMs:   int(duration.Milliseconds()),
	}, nil
}

func parseAnalysisResponse(raw string) (StructuredAnalysis, string, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var envelope struct {
		NarrativeSummary string `json:"narrative_summary"`
	}
	if err := json.Unmarshal([]byte(cleaned), &envelope); err != nil {
		return StructuredAnalysis{}, "", fmt.Errorf("parse LLM JSON: %w", err)
	}

	var analysis StructuredAnalysis
	if err := json.Unmarshal([]byte(cleaned), &analysis); err != nil {
		return StructuredAnalysis{}, "", fmt.Errorf("parse structured analysis: %w", err)
	}
	return analysis, envelope.NarrativeSummary, nil
}

const systemPrompt = `You are an expert UX researcher analyzing website visitor survey feedback.
Analyze all the comments provided and return a JSON object with this exact structure:
{
  "themes": [
    {
      "name": "short theme name",
      "description": "1-2 sentence description of this theme",
      "sentiment": "positive|negative|mixed|neutral",
      "frequency": "high|medium|low",
      "sample_quotes": ["1-2 verbatim quotes from the comments"]
    }
  ],
  "sentiment_breakdown": {
    "positive_pct": 0,
    "negative_pct": 0,
    "neutral_pct": 0
  },
  "key_issues": [
    {
      "title": "issue title",
      "severity": "critical|major|minor",
      "description": "description of the issue",
      "affected_users_pct": 0
    }
  ],
  "recommendations": [
    {
      "title": "recommendation title",
      "priority": "high|medium|low",
      "description": "what to do",
      "expected_impact": "expected result"
    }
  ],
  "narrative_summary": "A comprehensive free-text summary of all findings, written as a report paragraph."
}

Respond with ONLY the JSON object, no markdown code fences, no additional text.
Percentages should sum to 100 in sentiment_breakdown. Base affected_users_pct on the
proportion of comments mentioning that issue. Include 3-8 themes depending on diversity
of feedback. The narrative_summary should be 3-5 sentences synthesizing the key takeaways.`

func buildUserMessage(comments []txstore.CommentForAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Survey feedback analysis — %d total comments.\n\nComments:\n", len(comments))
	for i, c := range comments {
		rating := "N/A"
		if c.Rating != nil {
			rating = fmt.Sprintf("%.1f", *c.Rating)
		}
		country := orNA(c.Country)
		device := orNA(c.Device)
		url := orNA(c.URL)
		date := "N/A"
		if c.Date != nil {
			date = c.Date.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "%d. %q [Rating: %s, Country: %s, Device: %s, Date: %s, URL: %s]\n",
			i+1, c.Comment, rating, country, device, date, url)
	}
	b.WriteString("\nAnalyze all feedback and provide the structured JSON analysis.")
	return b.String()
}

func orNA(s *string) string {
	if s == nil || *s == "" {
		return "N/A"
	}
	return *s
}
