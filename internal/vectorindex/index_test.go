// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vectorindex

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/weaviate/weaviate/entities/models"
)

func TestObjectIDIsStableAndDeterministic(t *testing.T) {
	a := objectID("resp-123")
	b := objectID("resp-123")
	c := objectID("resp-456")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestIsAlreadyExistsMatchesWeaviateConflictMessages(t *testing.T) {
	assert.True(t, isAlreadyExists(errors.New("id already taken")))
	assert.True(t, isAlreadyExists(errors.New("object already exists")))
	assert.False(t, isAlreadyExists(errors.New("connection refused")))
}

func TestIsNotFoundMatchesWeaviate404(t *testing.T) {
	assert.True(t, isNotFound(errors.New("status code: 404, error: not found")))
	assert.False(t, isNotFound(errors.New("internal server error")))
}

func TestParseHitsExtractsDistanceAndFields(t *testing.T) {
	raw := map[string]models.JSONObject{
		"Get": map[string]interface{}{
			ClassName: []interface{}{
				map[string]interface{}{
					"responseId": "resp-1",
					"comment":    "loved the checkout flow",
					"_additional": map[string]interface{}{
						"distance": 0.12,
					},
				},
			},
		},
	}

	hits := parseHits(&models.GraphQLResponse{Data: raw})
	require := assert.New(t)
	require.Len(hits, 1)
	require.Equal("resp-1", hits[0].ResponseID)
	require.Equal("loved the checkout flow", hits[0].Comment)
	require.InDelta(float32(0.12), hits[0].Distance, 0.0001)
}
