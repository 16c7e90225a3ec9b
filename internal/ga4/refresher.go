// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ga4

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
)

// GoogleRefresher implements TokenRefresher against Google's OAuth2 token
// endpoint, the refresh half of the exchange auth/oauth.go's
// NewGoogleProvider/FetchGoogleUser covers for the initial login.
type GoogleRefresher struct {
	cfg *oauth2.Config
}

// NewGoogleRefresher builds a TokenRefresher for the connector setup flow's
// client credentials. redirectURL is unused for refresh requests but kept
// on the config for symmetry with the authorization-code exchange.
func NewGoogleRefresher(clientID, clientSecret, redirectURL string) *GoogleRefresher {
	return &GoogleRefresher{cfg: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"https://www.googleapis.com/auth/analytics.readonly"},
		Endpoint:     google.Endpoint,
	}}
}

// Refresh exchanges a stored refresh token for a new access token.
func (r *GoogleRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, coreerrors.New(coreerrors.KindUnauthorized, fmt.Sprintf("refresh google oauth token: %v", err))
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}
