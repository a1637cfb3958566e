package provider

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/gatewaymesh/mcpgate/pkg/auth"
)

// jwksRefreshInterval is how often the cached key set is re-fetched,
// independent of the endpoint's cache headers.
const jwksRefreshInterval = time.Hour

// jwksCache wraps a jwk.Cache with lazy registration and a one-shot forced
// refresh when a token references a kid we don't hold, so key rotation is
// picked up before the regular refresh interval elapses.
type jwksCache struct {
	url   string
	cache *jwk.Cache

	mu              sync.Mutex
	registered      bool
	registrationErr error
	refreshedOnMiss bool
}

func newJWKSCache(ctx context.Context, url string, httpClient *http.Client) (*jwksCache, error) {
	httprcClient := httprc.NewClient(httprc.WithHTTPClient(httpClient))
	cache, err := jwk.NewCache(ctx, httprcClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}
	return &jwksCache{url: url, cache: cache}, nil
}

func (c *jwksCache) ensureRegistered(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registered {
		return c.registrationErr
	}

	if err := c.cache.Register(ctx, c.url, jwk.WithConstantInterval(jwksRefreshInterval)); err != nil {
		c.registrationErr = fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	c.registered = true
	return c.registrationErr
}

// keyfunc returns a jwt.Keyfunc that resolves RS256 keys by kid.
func (c *jwksCache) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("token header missing kid")
		}

		return c.lookupKey(ctx, kid)
	}
}

func (c *jwksCache) lookupKey(ctx context.Context, kid string) (any, error) {
	if err := c.ensureRegistered(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrUpstreamProvider, err)
	}

	keySet, err := c.cache.Lookup(ctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch JWKS: %v", auth.ErrUpstreamProvider, err)
	}

	key, found := keySet.LookupKeyID(kid)
	if !found {
		// Force one refresh per miss window to tolerate key rotation.
		c.mu.Lock()
		alreadyRefreshed := c.refreshedOnMiss
		c.refreshedOnMiss = true
		c.mu.Unlock()

		if alreadyRefreshed {
			return nil, fmt.Errorf("%w: kid %s", auth.ErrNoMatchingKey, kid)
		}

		keySet, err = c.cache.Refresh(ctx, c.url)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to refresh JWKS: %v", auth.ErrUpstreamProvider, err)
		}
		key, found = keySet.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("%w: kid %s", auth.ErrNoMatchingKey, kid)
		}
	}

	c.mu.Lock()
	c.refreshedOnMiss = false
	c.mu.Unlock()

	var rawKey any
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}
	return rawKey, nil
}
