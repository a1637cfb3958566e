package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/gatewaymesh/mcpgate/pkg/auth"
	"github.com/gatewaymesh/mcpgate/pkg/config"
)

// Cognito adapts an AWS Cognito user pool. Tokens are RS256 JWTs signed
// with pool-specific JWKS; access tokens carry the client in the client_id
// claim rather than aud, and groups in cognito:groups.
type Cognito struct {
	settings   config.CognitoSettings
	issuer     string
	jwks       *jwksCache
	httpClient *http.Client
	oauth      *oauth2.Config
}

// NewCognito creates the Cognito adapter.
func NewCognito(ctx context.Context, settings config.CognitoSettings) (*Cognito, error) {
	if settings.UserPoolID == "" || settings.Region == "" {
		return nil, fmt.Errorf("cognito requires COGNITO_USER_POOL_ID and COGNITO_REGION")
	}

	issuer := fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", settings.Region, settings.UserPoolID)
	httpClient := newHTTPClient()

	jwks, err := newJWKSCache(ctx, issuer+"/.well-known/jwks.json", httpClient)
	if err != nil {
		return nil, err
	}

	return &Cognito{
		settings:   settings,
		issuer:     issuer,
		jwks:       jwks,
		httpClient: httpClient,
		oauth: &oauth2.Config{
			ClientID:     settings.ClientID,
			ClientSecret: settings.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  fmt.Sprintf("https://%s/oauth2/authorize", settings.Domain),
				TokenURL: fmt.Sprintf("https://%s/oauth2/token", settings.Domain),
			},
		},
	}, nil
}

// Name implements Provider.
func (*Cognito) Name() string { return config.ProviderCognito }

// ValidateToken implements Provider.
func (c *Cognito) ValidateToken(ctx context.Context, tokenString string) (*auth.Principal, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)

	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, c.jwks.keyfunc(ctx))
	if err != nil {
		return nil, mapJWTError(err)
	}
	if !token.Valid {
		return nil, auth.ErrInvalidSignature
	}

	// Cognito access tokens carry the client in client_id; id tokens in aud.
	if c.settings.ClientID != "" {
		clientID := claimString(claims, "client_id")
		if clientID == "" {
			if auds, err := claims.GetAudience(); err == nil {
				for _, aud := range auds {
					if aud == c.settings.ClientID {
						clientID = aud
						break
					}
				}
			}
		}
		if clientID != c.settings.ClientID {
			return nil, auth.ErrInvalidAudience
		}
	}

	return principalFromClaims(claims, "cognito:groups", auth.MethodCognito), nil
}

// ExchangeCode implements Provider.
func (c *Cognito) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenResult, error) {
	cfg := *c.oauth
	cfg.RedirectURL = redirectURI

	opts := []oauth2.AuthCodeOption{}
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}

	tok, err := cfg.Exchange(contextWithClient(ctx, c.httpClient), code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange failed: %v", auth.ErrUpstreamProvider, err)
	}
	return resultFromOAuth2(tok), nil
}

// RefreshToken implements Provider.
func (c *Cognito) RefreshToken(ctx context.Context, refreshToken string) (*TokenResult, error) {
	src := c.oauth.TokenSource(contextWithClient(ctx, c.httpClient), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh grant failed: %v", auth.ErrUpstreamProvider, err)
	}
	return resultFromOAuth2(tok), nil
}

// M2MToken implements Provider.
func (c *Cognito) M2MToken(ctx context.Context, scopes ...string) (*TokenResult, error) {
	cc := &clientcredentials.Config{
		ClientID:     c.settings.ClientID,
		ClientSecret: c.settings.ClientSecret,
		TokenURL:     c.oauth.Endpoint.TokenURL,
		Scopes:       scopes,
	}
	tok, err := cc.Token(contextWithClient(ctx, c.httpClient))
	if err != nil {
		return nil, fmt.Errorf("%w: client credentials grant failed: %v", auth.ErrUpstreamProvider, err)
	}
	return resultFromOAuth2(tok), nil
}

// UserInfo implements Provider.
func (c *Cognito) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	endpoint := fmt.Sprintf("https://%s/oauth2/userInfo", c.settings.Domain)
	return fetchUserInfo(ctx, c.httpClient, endpoint, accessToken)
}

// AuthCodeURL implements Provider.
func (c *Cognito) AuthCodeURL(state, redirectURI, codeChallenge string) string {
	cfg := *c.oauth
	cfg.RedirectURL = redirectURI
	cfg.Scopes = []string{"openid", "email", "profile"}

	opts := []oauth2.AuthCodeOption{}
	if codeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	return cfg.AuthCodeURL(state, opts...)
}

// LogoutURL implements Provider.
func (c *Cognito) LogoutURL(redirectURI string) string {
	q := url.Values{}
	q.Set("client_id", c.settings.ClientID)
	q.Set("logout_uri", redirectURI)
	return fmt.Sprintf("https://%s/logout?%s", c.settings.Domain, q.Encode())
}

// principalFromClaims canonicalizes verified claims into a Principal.
func principalFromClaims(claims jwt.MapClaims, groupsClaim string, method auth.Method) *auth.Principal {
	groups := claimStrings(claims, groupsClaim)
	if len(groups) == 0 && groupsClaim != "groups" {
		groups = claimStrings(claims, "groups")
	}

	return &auth.Principal{
		Subject:  claimString(claims, "preferred_username", "username", "cognito:username", "sub"),
		Groups:   groups,
		Scopes:   splitScopeClaim(claims),
		Method:   method,
		ClientID: claimString(claims, "azp", "client_id"),
		Claims:   claims,
	}
}

func splitScopeClaim(claims jwt.MapClaims) []string {
	scope := claimString(claims, "scope")
	if scope == "" {
		return nil
	}
	return splitFields(scope)
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return auth.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return auth.ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return auth.ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return auth.ErrInvalidIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return auth.ErrInvalidAudience
	case errors.Is(err, auth.ErrUpstreamProvider), errors.Is(err, auth.ErrNoMatchingKey):
		return err
	default:
		return fmt.Errorf("%w: %v", auth.ErrMalformedToken, err)
	}
}

func resultFromOAuth2(tok *oauth2.Token) *TokenResult {
	expiresIn := int64(0)
	if !tok.Expiry.IsZero() {
		expiresIn = int64(time.Until(tok.Expiry).Seconds())
	}

	res := &TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    expiresIn,
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		res.Scopes = splitFields(scope)
	}
	return res
}

func contextWithClient(ctx context.Context, client *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

func fetchUserInfo(ctx context.Context, client *http.Client, endpoint, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo request failed: %v", auth.ErrUpstreamProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo returned status %d", auth.ErrUpstreamProvider, resp.StatusCode)
	}

	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo response: %w", err)
	}
	return info, nil
}
