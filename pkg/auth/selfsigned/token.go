// Package selfsigned mints and verifies the gateway's own short-lived
// HS256 access tokens. It shares its signing secret with the session
// signer so rotating the secret invalidates both atomically.
package selfsigned

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gatewaymesh/mcpgate/pkg/auth"
)

const (
	// Issuer is the iss claim on every self-signed token.
	Issuer = "mcp-auth-server"

	// Audience is the aud claim on every self-signed token.
	Audience = "mcp-registry"

	// ClientID is the azp-equivalent on user-generated tokens.
	ClientID = "user-generated"

	// tokenUse mirrors Cognito's access/id token distinction.
	tokenUse = "access"

	// leeway tolerated on exp/iat during verification.
	leeway = 30 * time.Second
)

// Claims is the full claim set carried by a self-signed token.
type Claims struct {
	Scope    string `json:"scope"`
	TokenUse string `json:"token_use"`
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// Minter issues and verifies self-signed tokens over one secret.
type Minter struct {
	secret []byte
}

// NewMinter creates a minter over the shared process secret.
func NewMinter(secret string) *Minter {
	return &Minter{secret: []byte(secret)}
}

// Mint issues a token for username carrying the given scopes. The lifetime
// must already be validated by the caller (issuer policy).
func (m *Minter) Mint(username string, scopes []string, lifetime time.Duration) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		Scope:    strings.Join(scopes, " "),
		TokenUse: tokenUse,
		ClientID: ClientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify parses and validates a self-signed token, returning a Principal.
func (m *Minter) Verify(tokenString string) (*auth.Principal, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(leeway),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)

	var claims Claims
	token, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, auth.ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, auth.ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, auth.ErrMalformedToken
		default:
			return nil, fmt.Errorf("%w: %v", auth.ErrMalformedToken, err)
		}
	}
	if !token.Valid {
		return nil, auth.ErrInvalidSignature
	}
	if claims.TokenUse != tokenUse {
		return nil, fmt.Errorf("%w: unexpected token_use", auth.ErrMalformedToken)
	}

	return &auth.Principal{
		Subject:  claims.Subject,
		Scopes:   splitScopes(claims.Scope),
		Method:   auth.MethodSelfSigned,
		ClientID: claims.ClientID,
	}, nil
}

// IsSelfSigned peeks at the unverified issuer claim to decide whether a
// bearer token should be verified locally or dispatched to the provider.
func IsSelfSigned(tokenString string) bool {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return false
	}
	iss, err := token.Claims.GetIssuer()
	return err == nil && iss == Issuer
}

func splitScopes(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}
