// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

// Package nest talks to the two Google surfaces the clip pipeline needs:
// the Smart Device Management (SDM) API for device discovery and the Nest
// camera frontend for clip download. Both are authenticated with the same
// OAuth refresh token from the Device Access Console.
package nest

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Credentials is the OAuth material from the Device Access Console setup.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// NewOAuthClient builds an http.Client whose transport refreshes and
// attaches bearer tokens automatically. The refresh token never expires
// unless revoked, so this client is good for the process lifetime.
func NewOAuthClient(ctx context.Context, creds Credentials) *http.Client {
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes: []string{
			"https://www.googleapis.com/auth/sdm.service",
		},
	}
	token := &oauth2.Token{
		RefreshToken: creds.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute), // force refresh on first use
	}
	client := conf.Client(ctx, token)
	client.Timeout = 30 * time.Second
	return client
}
