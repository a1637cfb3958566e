// Package issuer mints short-lived self-signed access tokens on behalf of
// authenticated users, enforcing scope-subset validation and a
// per-username rate limit.
package issuer

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gatewaymesh/mcpgate/pkg/auth/selfsigned"
)

// Sentinel errors mapped to HTTP statuses by the API layer.
var (
	// ErrRateLimited means the caller exhausted their hourly token quota.
	ErrRateLimited = errors.New("token issuance rate limit exceeded")

	// ErrInvalidLifetime means expires_in_hours is out of bounds.
	ErrInvalidLifetime = errors.New("invalid token lifetime")
)

// ScopeError reports requested scopes outside the caller's grant.
type ScopeError struct {
	Offending []string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("requested scopes exceed caller's scopes: %s", strings.Join(e.Offending, ", "))
}

// Policy is the issuer configuration.
type Policy struct {
	MaxLifetimeHours     int
	DefaultLifetimeHours int
	MaxTokensPerHour     int
}

// Request is one token issuance request.
type Request struct {
	Username        string
	UserScopes      []string
	RequestedScopes []string
	ExpiresInHours  int
	Description     string
}

// Response is the issued token.
type Response struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	Scope       string    `json:"scope"`
	IssuedAt    time.Time `json:"issued_at"`
	Description string    `json:"description,omitempty"`
}

// Issuer mints tokens subject to policy.
type Issuer struct {
	minter *selfsigned.Minter
	policy Policy

	// Rate limiters are sharded per username; the map itself is guarded
	// but each limiter carries its own lock, so concurrent issuance for
	// different users never contends.
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates an issuer over the shared signing secret.
func New(minter *selfsigned.Minter, policy Policy) *Issuer {
	if policy.MaxLifetimeHours <= 0 {
		policy.MaxLifetimeHours = 24
	}
	if policy.DefaultLifetimeHours <= 0 {
		policy.DefaultLifetimeHours = 8
	}
	if policy.MaxTokensPerHour <= 0 {
		policy.MaxTokensPerHour = 10
	}
	return &Issuer{
		minter:   minter,
		policy:   policy,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Issue validates the request and mints a token. Requested scopes default
// to the caller's scopes; a superset request fails naming the offenders.
func (i *Issuer) Issue(req *Request) (*Response, error) {
	if !i.limiter(req.Username).Allow() {
		return nil, ErrRateLimited
	}

	hours := req.ExpiresInHours
	if hours == 0 {
		hours = i.policy.DefaultLifetimeHours
	}
	if hours < 1 || hours > i.policy.MaxLifetimeHours {
		return nil, fmt.Errorf("%w: expires_in_hours must be between 1 and %d", ErrInvalidLifetime, i.policy.MaxLifetimeHours)
	}

	scopes := req.RequestedScopes
	if len(scopes) == 0 {
		scopes = req.UserScopes
	}
	if offending := subtract(scopes, req.UserScopes); len(offending) > 0 {
		return nil, &ScopeError{Offending: offending}
	}

	lifetime := time.Duration(hours) * time.Hour
	token, claims, err := i.minter.Mint(req.Username, scopes, lifetime)
	if err != nil {
		return nil, err
	}

	return &Response{
		AccessToken: token,
		ExpiresIn:   int64(lifetime.Seconds()),
		Scope:       claims.Scope,
		IssuedAt:    claims.IssuedAt.Time,
		Description: req.Description,
	}, nil
}

// limiter returns the caller's rolling-window limiter, creating it on
// first use. Burst equals the hourly quota so a fresh user can issue up to
// the quota immediately, then refills at quota/hour.
func (i *Issuer) limiter(username string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	l, ok := i.limiters[username]
	if !ok {
		quota := i.policy.MaxTokensPerHour
		l = rate.NewLimiter(rate.Every(time.Hour/time.Duration(quota)), quota)
		i.limiters[username] = l
	}
	return l
}

func subtract(requested, granted []string) []string {
	allowed := make(map[string]bool, len(granted))
	for _, s := range granted {
		allowed[s] = true
	}
	var out []string
	for _, s := range requested {
		if !allowed[s] {
			out = append(out, s)
		}
	}
	return out
}
