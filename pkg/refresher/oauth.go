package refresher

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/gatewaymesh/mcpgate/pkg/auth/provider"
	"github.com/gatewaymesh/mcpgate/pkg/logger"
	"github.com/gatewaymesh/mcpgate/pkg/vault"
)

// Token endpoints for well-known egress providers. Anything absent here
// falls back to the record's stored KeycloakURL or is deferred.
var tokenEndpoints = map[string]string{
	"google":    "https://oauth2.googleapis.com/token",
	"atlassian": "https://auth.atlassian.com/oauth/token",
	"github":    "https://github.com/login/oauth/access_token",
	"microsoft": "https://login.microsoftonline.com/common/oauth2/v2.0/token",
}

// refreshAgentCore re-mints a Bedrock AgentCore egress token through the
// client-credentials grant. AgentCore never issues refresh tokens, so
// this is the only non-interactive path.
func (r *Refresher) refreshAgentCore(ctx context.Context, rec *vault.Record) (*vault.Record, error) {
	if r.opts.AgentCoreTokenURL == "" || r.opts.AgentCoreClientID == "" {
		return nil, errors.New("agentcore client credentials not configured")
	}

	cfg := &clientcredentials.Config{
		ClientID:     r.opts.AgentCoreClientID,
		ClientSecret: r.opts.AgentCoreClientSecret,
		TokenURL:     r.opts.AgentCoreTokenURL,
		Scopes:       rec.Scopes,
	}

	result, err := r.retryGrant(ctx, func() (*provider.TokenResult, error) {
		tok, err := cfg.Token(ctx)
		if err != nil {
			return nil, err
		}
		return resultFromToken(tok), nil
	})
	if err != nil {
		return nil, err
	}
	return r.freshRecord(rec, result), nil
}

// refreshOAuth runs the refresh-token grant for a generic OAuth egress
// record. Records without a refresh token are deferred: only an
// interactive authorization flow can replace them.
func (r *Refresher) refreshOAuth(ctx context.Context, name string, rec *vault.Record) (*vault.Record, error) {
	if rec.RefreshToken == "" {
		logger.Infof("%s has no refresh token; re-authorization required", name)
		return nil, nil
	}

	endpoint := tokenEndpoints[rec.Provider]
	if endpoint == "" && rec.KeycloakURL != "" {
		endpoint = strings.TrimSuffix(rec.KeycloakURL, "/") +
			"/realms/" + rec.Realm + "/protocol/openid-connect/token"
	}
	if endpoint == "" {
		logger.Infof("%s has no known token endpoint; re-authorization required", name)
		return nil, nil
	}

	clientID, clientSecret := clientCredentialsFor(rec.Provider)
	if clientID == "" {
		logger.Infof("no client credentials configured for provider %s; skipping %s", rec.Provider, name)
		return nil, nil
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: endpoint},
	}

	result, err := r.retryGrant(ctx, func() (*provider.TokenResult, error) {
		src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: rec.RefreshToken})
		tok, err := src.Token()
		if err != nil {
			return nil, err
		}
		return resultFromToken(tok), nil
	})
	if err != nil {
		return nil, err
	}
	return r.freshRecord(rec, result), nil
}

// clientCredentialsFor reads {PROVIDER}_CLIENT_ID and
// {PROVIDER}_CLIENT_SECRET from the environment.
func clientCredentialsFor(providerName string) (string, string) {
	prefix := strings.ToUpper(strings.ReplaceAll(providerName, "-", "_"))
	return os.Getenv(prefix + "_CLIENT_ID"), os.Getenv(prefix + "_CLIENT_SECRET")
}

func resultFromToken(tok *oauth2.Token) *provider.TokenResult {
	res := &provider.TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		res.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	return res
}
