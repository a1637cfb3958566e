// Package auth provides authentication primitives shared by the validate
// endpoint, the token issuer, and the refresher.
package auth

import (
	"encoding/json"
	"fmt"
)

// Method identifies how a principal was authenticated.
type Method string

// Authentication methods, in the order the validate endpoint tries them.
const (
	// MethodSession means the principal arrived with a signed session cookie.
	MethodSession Method = "session_cookie"

	// MethodSelfSigned means the principal presented a gateway-issued HS256 token.
	MethodSelfSigned Method = "self_signed"

	// MethodCognito means the principal presented a Cognito-issued JWT.
	MethodCognito Method = "cognito"

	// MethodKeycloak means the principal presented a Keycloak-issued JWT.
	MethodKeycloak Method = "keycloak"
)

// Principal represents an authenticated user or service account. It is
// produced by credential validation, lives for a single request, and is
// never persisted.
type Principal struct {
	// Subject is the unique identifier for the principal. For provider
	// tokens this prefers preferred_username/username over the raw sub.
	Subject string

	// Groups are the identity-provider groups this principal belongs to.
	Groups []string

	// Scopes are the effective scopes, either carried by the credential or
	// derived from Groups via the scope policy's group mappings.
	Scopes []string

	// Method records which credential type authenticated this principal.
	Method Method

	// ClientID is the OAuth client the credential was issued to, if known.
	ClientID string

	// Claims preserves the raw token claims for diagnostics. Never logged
	// or serialized wholesale.
	Claims map[string]any
}

// String returns a representation safe for logs: the subject only.
func (p *Principal) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Principal{Subject:%q Method:%q}", p.Subject, p.Method)
}

// MarshalJSON implements json.Marshaler and drops the raw claims so a
// principal can be logged or returned without leaking token material.
func (p *Principal) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}

	type safePrincipal struct {
		Subject  string   `json:"subject"`
		Groups   []string `json:"groups"`
		Scopes   []string `json:"scopes"`
		Method   Method   `json:"method"`
		ClientID string   `json:"client_id,omitempty"`
	}

	return json.Marshal(&safePrincipal{
		Subject:  p.Subject,
		Groups:   p.Groups,
		Scopes:   p.Scopes,
		Method:   p.Method,
		ClientID: p.ClientID,
	})
}
