// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package vectorindex stores survey comment embeddings in Weaviate and
// serves the nearest-neighbor lookups behind search_survey_comments. See
// the storage split recorded in internal/txstore/schema.go (survey_responses
// tracks pipeline state only; the float vectors live here). Grounded on
// services/orchestrator/datatypes/weaviate_schemas.go and handlers/memory.go:
// a "none"-vectorizer class whose vectors are supplied by the caller,
// since embeddings come from the embedding worker's own model call, not
// from Weaviate's built-in vectorizer modules.
package vectorindex

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// ClassName is the Weaviate class holding one object per survey response
// with a non-empty comment.
const ClassName = "SurveyComment"

func schema() *models.Class {
	filterable := true
	return &models.Class{
		Class:       ClassName,
		Description: "A survey response comment embedded for semantic search.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "responseId",
				DataType:        []string{"text"},
				Description:     "txstore survey_responses.id this vector belongs to.",
				IndexFilterable: &filterable,
				Tokenization:    "field",
			},
			{
				Name:            "projectId",
				DataType:        []string{"text"},
				Description:     "Project isolation key, queried alongside nearVector.",
				IndexFilterable: &filterable,
				Tokenization:    "field",
			},
			{
				Name:        "comment",
				DataType:    []string{"text"},
				Description: "The raw comment text, returned alongside search hits.",
			},
		},
	}
}

// EnsureSchema creates the SurveyComment class if it does not already
// exist. Safe to call on every startup.
func EnsureSchema(ctx context.Context, client *weaviate.Client) error {
	_, err := client.Schema().ClassGetter().WithClassName(ClassName).Do(ctx)
	if err == nil {
		return nil
	}
	class := schema()
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create %s schema: %w", ClassName, err)
	}
	return nil
}
