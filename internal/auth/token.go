// Package auth acquires bearer tokens for the Dataverse Web API via the
// OAuth2 client credentials grant against Microsoft Entra ID.
package auth

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// loginBase is the Entra ID token endpoint prefix; the tenant ID completes it.
const loginBase = "https://login.microsoftonline.com"

// Config holds the application registration used to authenticate.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// EnvironmentURL scopes the token to the target environment's audience.
	EnvironmentURL string

	// TokenURL overrides the Entra ID endpoint. Tests only.
	TokenURL string
}

// AuthenticationError indicates the token could not be acquired. It is a
// precondition failure of the whole run: no reconciliation proceeds without
// a valid token.
type AuthenticationError struct {
	Err error
}

// Error returns a description of the failed token acquisition.
func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

// Unwrap exposes the underlying OAuth2 error.
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// NewTokenSource returns a cached token source for the environment. Tokens
// are fetched lazily and refreshed automatically before expiry.
func NewTokenSource(ctx context.Context, cfg *Config) (oauth2.TokenSource, error) {
	if cfg.TenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}
	if cfg.EnvironmentURL == "" {
		return nil, fmt.Errorf("environment URL is required")
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("%s/%s/oauth2/v2.0/token", loginBase, cfg.TenantID)
	}

	conf := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{strings.TrimRight(cfg.EnvironmentURL, "/") + "/.default"},
	}

	return conf.TokenSource(ctx), nil
}

// Verify eagerly fetches one token so an invalid app registration fails the
// run before any per-key processing starts.
func Verify(source oauth2.TokenSource) error {
	token, err := source.Token()
	if err != nil {
		return &AuthenticationError{Err: err}
	}
	if !token.Valid() {
		return &AuthenticationError{Err: fmt.Errorf("token source returned an expired token")}
	}
	return nil
}
