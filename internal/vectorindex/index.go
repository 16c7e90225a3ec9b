// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/oraclewalid/croanalysis/internal/platform/resilience"
)

// objectIDNamespace is a fixed namespace UUID used to derive a stable
// Weaviate object ID from a survey response ID, so re-embedding the same
// response upserts the same object instead of creating a duplicate.
var objectIDNamespace = uuid.MustParse("6f2c9d64-2b0a-4a1d-9e3f-6a6d2e9a2b40")

func objectID(responseID string) string {
	return uuid.NewSHA1(objectIDNamespace, []byte(responseID)).String()
}

// Index is a thin, retrying wrapper over a Weaviate client scoped to the
// SurveyComment class. Constructed once per process; safe for concurrent
// use, mirroring the ResilientClient usage pattern but trimmed to the
// plain retry policy in internal/platform/resilience (no circuit breaker —
// comment search degrades per-call, not process-wide).
type Index struct {
	client *weaviate.Client
	logger *slog.Logger
	policy resilience.Policy
}

// New creates an Index against the given Weaviate HTTP URL (e.g.
// "http://localhost:8080"). It does not verify connectivity; callers that
// want a readiness check should call EnsureSchema.
func New(rawURL string, logger *slog.Logger) (*Index, error) {
	scheme, host := "http", rawURL
	if strings.HasPrefix(rawURL, "https://") {
		scheme, host = "https", rawURL[len("https://"):]
	} else if strings.HasPrefix(rawURL, "http://") {
		host = rawURL[len("http://"):]
	}

	client, err := weaviate.NewClient(weaviate.Config{Scheme: scheme, Host: host})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	return &Index{
		client: client,
		logger: logger,
		policy: resilience.Policy{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    2 * time.Second,
			Retryable:   isRetryable,
		},
	}, nil
}

// Hit is one nearest-neighbor search result.
type Hit struct {
	ResponseID string
	Comment    string
	Distance   float32
}

// Upsert stores or replaces the vector for one survey response. Comment
// embedding is always a full row replace (not a partial merge): a response
// is either pending, or has exactly one current vector.
func (idx *Index) Upsert(ctx context.Context, responseID, projectID, comment string, vector []float32) error {
	id := objectID(responseID)
	properties := map[string]any{
		"responseId": responseID,
		"projectId":  projectID,
		"comment":    comment,
	}

	return resilience.Execute(ctx, idx.policy, func(ctx context.Context) error {
		_, err := idx.client.Data().Creator().
			WithClassName(ClassName).
			WithID(id).
			WithProperties(properties).
			WithVector(vector).
			Do(ctx)
		if err == nil {
			return nil
		}
		if !isAlreadyExists(err) {
			return fmt.Errorf("create survey comment object: %w", err)
		}

		err = idx.client.Data().Updater().
			WithClassName(ClassName).
			WithID(id).
			WithProperties(properties).
			WithVector(vector).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("update survey comment object: %w", err)
		}
		return nil
	})
}

// Delete removes the vector for one survey response, if present.
func (idx *Index) Delete(ctx context.Context, responseID string) error {
	return resilience.Execute(ctx, idx.policy, func(ctx context.Context) error {
		err := idx.client.Data().Deleter().
			WithClassName(ClassName).
			WithID(objectID(responseID)).
			Do(ctx)
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("delete survey comment object: %w", err)
		}
		return nil
	})
}

// Search returns the comments in projectID nearest to vector, ordered by
// distance ascending.
func (idx *Index) Search(ctx context.Context, projectID string, vector []float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}

	nearVector := idx.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	where := filters.Where().
		WithPath([]string{"projectId"}).
		WithOperator(filters.Equal).
		WithValueString(projectID)

	fields := []graphql.Field{
		{Name: "responseId"},
		{Name: "comment"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	var hits []Hit
	err := resilience.Execute(ctx, idx.policy, func(ctx context.Context) error {
		result, err := idx.client.GraphQL().Get().
			WithClassName(ClassName).
			WithFields(fields...).
			WithWhere(where).
			WithNearVector(nearVector).
			WithLimit(limit).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("nearVector search: %w", err)
		}
		if len(result.Errors) > 0 {
			return fmt.Errorf("nearVector search: %s", result.Errors[0].Message)
		}
		hits = parseHits(result)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func parseHits(result *models.GraphQLResponse) []Hit {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[ClassName].([]interface{})
	if !ok {
		return nil
	}

	hits := make([]Hit, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		h := Hit{
			ResponseID: getString(m, "responseId"),
			Comment:    getString(m, "comment"),
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				h.Distance = float32(d)
			}
		}
		hits = append(hits, h)
	}
	return hits
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func isAlreadyExists(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "id already taken") || strings.Contains(msg, "conflict")
}

func isNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404")
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
