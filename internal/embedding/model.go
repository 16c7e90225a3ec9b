// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package embedding generates vector embeddings for survey comments and
// drives the background worker that keeps internal/vectorindex current,
// grounded on original_source/api/src/services/embedding_service.rs.
// The original loads a FastEmbed model in-process; this port instead talks
// to an external embedding HTTP service, following
// services/orchestrator/datatypes/rag.go's EmbeddingResponse.Get pattern
// (POST text, get a vector back) generalized to a batch endpoint so one
// worker tick embeds many comments in one round trip.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/oraclewalid/croanalysis/internal/platform/resilience"
)

// Model embeds a batch of texts, preserving input order and alignment.
// A nil entry in the result means the corresponding input was empty or
// whitespace-only and was skipped, mirroring generate_embeddings's
// valid_indices bookkeeping.
type Model interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type httpModel struct {
	url    string
	client *http.Client
	policy resilience.Policy
}

// NewHTTPModel returns a Model backed by an external embedding service
// exposing POST {url} with {"texts": [...]} -> {"vectors": [[...]|null, ...]}.
func NewHTTPModel(url string) Model {
	return &httpModel{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		policy: resilience.Policy{
			MaxAttempts: 3,
			BaseDelay:   300 * time.Millisecond,
			MaxDelay:    3 * time.Second,
			Retryable:   isRetryable,
		},
	}
}

type batchRequest struct {
	Texts []string `json:"texts"`
}

type batchResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// EmbedBatch filters out empty/whitespace texts before calling the
// embedding service, then maps results back to the original indices —
// the same valid_indices/valid_texts split generate_embeddings performs,
// so a mostly-empty comment batch never pays for a mostly-empty request.
func (m *httpModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var validIndices []int
	var validTexts []string
	for i, t := range texts {
		trimmed := strings.TrimSpace(t)
		if trimmed != "" {
			validIndices = append(validIndices, i)
			validTexts = append(validTexts, trimmed)
		}
	}

	result := make([][]float32, len(texts))
	if len(validTexts) == 0 {
		return result, nil
	}

	var vectors [][]float32
	err := resilience.Execute(ctx, m.policy, func(ctx context.Context) error {
		v, err := m.postBatch(ctx, validTexts)
		if err != nil {
			return err
		}
		vectors = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(validTexts) {
		return nil, fmt.Errorf("embed batch: expected %d vectors, got %d", len(validTexts), len(vectors))
	}

	for i, idx := range validIndices {
		result[idx] = vectors[i]
	}
	return result, nil
}

func (m *httpModel) postBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(batchRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embedding service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out batchResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	return out.Vectors, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary()
	}
	return strings.Contains(err.Error(), "connection refused") || strings.Contains(err.Error(), "EOF")
}
