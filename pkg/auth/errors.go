package auth

import "errors"

// Common credential errors. The API layer maps these onto HTTP statuses;
// nothing below ever carries token material in its text.
var (
	// ErrNoCredential means no token or cookie was supplied.
	ErrNoCredential = errors.New("no credential provided")

	// ErrTokenExpired means the credential is past its expiry.
	ErrTokenExpired = errors.New("token has expired")

	// ErrInvalidSignature means a MAC or JWT signature did not verify.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrMalformedToken means the credential could not be parsed at all.
	ErrMalformedToken = errors.New("malformed token")

	// ErrInvalidIssuer means the token issuer is not one we accept.
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrInvalidAudience means the token audience does not include us.
	ErrInvalidAudience = errors.New("invalid audience")

	// ErrNoMatchingKey means the JWKS had no key for the token's kid.
	ErrNoMatchingKey = errors.New("no matching key in JWKS")

	// ErrUpstreamProvider means a JWKS fetch or token endpoint call failed.
	ErrUpstreamProvider = errors.New("identity provider request failed")
)
