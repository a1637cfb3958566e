// Package provider wraps one identity provider (Cognito or Keycloak)
// behind a single interface. The validate endpoint and the token refresher
// only ever see the interface; construction is driven by AUTH_PROVIDER and
// nothing branches on the provider name after startup.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gatewaymesh/mcpgate/pkg/auth"
	"github.com/gatewaymesh/mcpgate/pkg/config"
)

// requestTimeout bounds every outbound call to the identity provider.
const requestTimeout = 30 * time.Second

// TokenResult is the canonical shape of any token-endpoint response.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	Scopes       []string
}

// Provider is the capability set of one identity provider.
type Provider interface {
	// Name returns the provider name: cognito or keycloak.
	Name() string

	// ValidateToken verifies a provider-issued JWT against JWKS and
	// canonicalizes its claims into a Principal.
	ValidateToken(ctx context.Context, token string) (*auth.Principal, error)

	// ExchangeCode trades an authorization code for tokens.
	ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenResult, error)

	// RefreshToken runs a refresh-token grant.
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResult, error)

	// M2MToken runs a client-credentials grant with the adapter's own
	// credentials. No refresh token is expected.
	M2MToken(ctx context.Context, scopes ...string) (*TokenResult, error)

	// UserInfo fetches the userinfo document for an access token.
	UserInfo(ctx context.Context, accessToken string) (map[string]any, error)

	// AuthCodeURL builds the provider's authorization URL for interactive login.
	AuthCodeURL(state, redirectURI, codeChallenge string) string

	// LogoutURL builds the provider's logout URL.
	LogoutURL(redirectURI string) string
}

// New constructs the adapter selected by the configuration.
func New(ctx context.Context, cfg *config.Settings) (Provider, error) {
	switch cfg.AuthProvider {
	case config.ProviderCognito:
		return NewCognito(ctx, cfg.Cognito)
	case config.ProviderKeycloak:
		return NewKeycloak(ctx, cfg.Keycloak)
	default:
		return nil, fmt.Errorf("unsupported auth provider: %s", cfg.AuthProvider)
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}

// splitFields splits a space-separated scope string, tolerating extra
// whitespace.
func splitFields(s string) []string {
	return strings.Fields(s)
}

// claimString returns the first present, non-empty string claim.
func claimString(claims map[string]any, names ...string) string {
	for _, name := range names {
		if v, ok := claims[name].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// claimStrings coerces a claim into a string slice. Providers emit group
// claims either as JSON arrays or single strings.
func claimStrings(claims map[string]any, name string) []string {
	switch v := claims[name].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
