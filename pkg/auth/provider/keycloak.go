package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/gatewaymesh/mcpgate/pkg/auth"
	"github.com/gatewaymesh/mcpgate/pkg/config"
	"github.com/gatewaymesh/mcpgate/pkg/logger"
)

// Keycloak adapts a Keycloak realm. Tokens may be minted against the
// external URL, the in-cluster URL, or localhost during development, so
// validation accepts any of the three issuer forms.
type Keycloak struct {
	settings        config.KeycloakSettings
	acceptedIssuers []string
	endpoint        oauth2.Endpoint
	jwks            *jwksCache
	httpClient      *http.Client
}

// NewKeycloak creates the Keycloak adapter. Endpoints are resolved via
// OIDC discovery against the internal URL, falling back to the well-known
// Keycloak paths when discovery is unreachable at startup.
func NewKeycloak(ctx context.Context, settings config.KeycloakSettings) (*Keycloak, error) {
	if settings.URL == "" || settings.Realm == "" {
		return nil, fmt.Errorf("keycloak requires KEYCLOAK_URL and KEYCLOAK_REALM")
	}

	internal := settings.AdminURL
	if internal == "" {
		internal = settings.URL
	}

	realmPath := "/realms/" + settings.Realm
	acceptedIssuers := dedupe([]string{
		strings.TrimSuffix(settings.URL, "/") + realmPath,
		strings.TrimSuffix(internal, "/") + realmPath,
		"http://localhost:8080" + realmPath,
	})

	httpClient := newHTTPClient()
	internalIssuer := strings.TrimSuffix(internal, "/") + realmPath

	endpoint := oauth2.Endpoint{
		AuthURL:  internalIssuer + "/protocol/openid-connect/auth",
		TokenURL: internalIssuer + "/protocol/openid-connect/token",
	}
	jwksURL := internalIssuer + "/protocol/openid-connect/certs"

	// Discovery is best effort: Keycloak's paths are stable, and the
	// adapter must be constructible before the realm is reachable.
	if doc, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), internalIssuer); err == nil {
		endpoint = doc.Endpoint()
		var claims struct {
			JWKSURI string `json:"jwks_uri"`
		}
		if err := doc.Claims(&claims); err == nil && claims.JWKSURI != "" {
			jwksURL = claims.JWKSURI
		}
	} else {
		logger.Warnf("keycloak OIDC discovery failed, using well-known endpoint paths: %v", err)
	}

	jwks, err := newJWKSCache(ctx, jwksURL, httpClient)
	if err != nil {
		return nil, err
	}

	return &Keycloak{
		settings:        settings,
		acceptedIssuers: acceptedIssuers,
		endpoint:        endpoint,
		jwks:            jwks,
		httpClient:      httpClient,
	}, nil
}

// Name implements Provider.
func (*Keycloak) Name() string { return config.ProviderKeycloak }

// ValidateToken implements Provider.
func (k *Keycloak) ValidateToken(ctx context.Context, tokenString string) (*auth.Principal, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)

	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, k.jwks.keyfunc(ctx))
	if err != nil {
		return nil, mapJWTError(err)
	}
	if !token.Valid {
		return nil, auth.ErrInvalidSignature
	}

	issuer, err := claims.GetIssuer()
	if err != nil || !contains(k.acceptedIssuers, issuer) {
		return nil, auth.ErrInvalidIssuer
	}

	if err := k.checkAudience(claims); err != nil {
		return nil, err
	}

	return principalFromClaims(claims, "groups", auth.MethodKeycloak), nil
}

// checkAudience accepts the configured client id, Keycloak's implicit
// "account" audience, and the M2M client id.
func (k *Keycloak) checkAudience(claims jwt.MapClaims) error {
	accepted := dedupe([]string{k.settings.ClientID, "account", k.settings.M2MClientID})

	audiences, err := claims.GetAudience()
	if err != nil || len(audiences) == 0 {
		// Client-credentials tokens may carry azp instead of aud.
		if azp := claimString(claims, "azp"); azp != "" && contains(accepted, azp) {
			return nil
		}
		return auth.ErrInvalidAudience
	}

	for _, aud := range audiences {
		if contains(accepted, aud) {
			return nil
		}
	}
	return auth.ErrInvalidAudience
}

// ExchangeCode implements Provider.
func (k *Keycloak) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenResult, error) {
	cfg := k.oauthConfig(redirectURI)

	opts := []oauth2.AuthCodeOption{}
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}

	tok, err := cfg.Exchange(contextWithClient(ctx, k.httpClient), code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange failed: %v", auth.ErrUpstreamProvider, err)
	}
	return resultFromOAuth2(tok), nil
}

// RefreshToken implements Provider.
func (k *Keycloak) RefreshToken(ctx context.Context, refreshToken string) (*TokenResult, error) {
	cfg := k.oauthConfig("")
	src := cfg.TokenSource(contextWithClient(ctx, k.httpClient), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh grant failed: %v", auth.ErrUpstreamProvider, err)
	}
	return resultFromOAuth2(tok), nil
}

// M2MToken implements Provider.
func (k *Keycloak) M2MToken(ctx context.Context, scopes ...string) (*TokenResult, error) {
	clientID, secret := k.settings.M2MClientID, k.settings.M2MSecret
	if clientID == "" {
		clientID, secret = k.settings.ClientID, k.settings.ClientSecret
	}

	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		TokenURL:     k.endpoint.TokenURL,
		Scopes:       scopes,
	}
	tok, err := cc.Token(contextWithClient(ctx, k.httpClient))
	if err != nil {
		return nil, fmt.Errorf("%w: client credentials grant failed: %v", auth.ErrUpstreamProvider, err)
	}
	return resultFromOAuth2(tok), nil
}

// UserInfo implements Provider.
func (k *Keycloak) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	endpoint := strings.TrimSuffix(k.endpoint.TokenURL, "/token") + "/userinfo"
	return fetchUserInfo(ctx, k.httpClient, endpoint, accessToken)
}

// AuthCodeURL implements Provider.
func (k *Keycloak) AuthCodeURL(state, redirectURI, codeChallenge string) string {
	cfg := k.oauthConfig(redirectURI)
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
func (k *Keycloak) LogoutURL(redirectURI string) string {
	base := strings.TrimSuffix(k.settings.URL, "/") + "/realms/" + k.settings.Realm + "/protocol/openid-connect/logout"
	q := url.Values{}
	q.Set("client_id", k.settings.ClientID)
	q.Set("post_logout_redirect_uri", redirectURI)
	return base + "?" + q.Encode()
}

func (k *Keycloak) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     k.settings.ClientID,
		ClientSecret: k.settings.ClientSecret,
		Endpoint:     k.endpoint,
		RedirectURL:  redirectURI,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range in {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
