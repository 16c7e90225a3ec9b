// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tokenstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
)

func newTestStore(t *testing.T) *Store {
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "p1", "c1")
	require.Error(t, err)
	assert.True(t, coreerrors.IsNotFound(err))
}

func TestPutThenGetRoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tok := &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}
	require.NoError(t, store.Put(ctx, "p1", "c1", tok))

	got, err := store.Get(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, tok.AccessToken, got.AccessToken)
	assert.Equal(t, tok.RefreshToken, got.RefreshToken)
	assert.WithinDuration(t, tok.Expiry, got.Expiry, time.Second)
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Now()
	assert.True(t, NeedsRefresh(&oauth2.Token{Expiry: now.Add(-time.Minute)}, now))
	assert.True(t, NeedsRefresh(&oauth2.Token{Expiry: now.Add(30 * time.Second)}, now))
	assert.False(t, NeedsRefresh(&oauth2.Token{Expiry: now.Add(5 * time.Minute)}, now))
	assert.False(t, NeedsRefresh(&oauth2.Token{}, now))
}
