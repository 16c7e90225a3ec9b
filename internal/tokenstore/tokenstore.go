// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/oauth2"

	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
)

// ExpirySkew is the buffer before the persisted expiry at which a token is
// already treated as expired, absorbing clock drift between this process
// and Google's token endpoint.
const ExpirySkew = 60 * time.Second

// record is the on-disk representation of an oauth2.Token.
type record struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
}

// Store persists one OAuth token per (project, connector) pair.
type Store struct {
	db *DB
}

func New(db *DB) *Store { return &Store{db: db} }

func key(projectID, connectorID string) []byte {
	return []byte(fmt.Sprintf("token:%s:%s", projectID, connectorID))
}

// Get returns the persisted token, or a NotFound CoreError if none exists.
func (s *Store) Get(ctx context.Context, projectID, connectorID string) (*oauth2.Token, error) {
	var rec record
	err := s.db.withReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(key(projectID, connectorID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return coreerrors.NotFound("no token for project/connector")
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		TokenType:    rec.TokenType,
		Expiry:       rec.Expiry,
	}, nil
}

// Put persists a (possibly refreshed) token, overwriting any prior value.
func (s *Store) Put(ctx context.Context, projectID, connectorID string, token *oauth2.Token) error {
	rec := record{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return coreerrors.Internal("marshal token record", err)
	}
	return s.db.withTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(key(projectID, connectorID), data)
	})
}

// NeedsRefresh reports whether tok is expired, or will expire within
// ExpirySkew.
func NeedsRefresh(tok *oauth2.Token, now time.Time) bool {
	if tok.Expiry.IsZero() {
		return false
	}
	return !tok.Expiry.After(now.Add(ExpirySkew))
}
