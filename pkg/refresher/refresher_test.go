package refresher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewaymesh/mcpgate/pkg/auth"
	"github.com/gatewaymesh/mcpgate/pkg/auth/provider"
	"github.com/gatewaymesh/mcpgate/pkg/clientconfig"
	"github.com/gatewaymesh/mcpgate/pkg/vault"
)

// fakeProvider counts M2M grants and returns a fixed token.
type fakeProvider struct {
	m2mCalls int
	m2mErr   error
}

func (*fakeProvider) Name() string { return "fake" }

func (*fakeProvider) ValidateToken(context.Context, string) (*auth.Principal, error) {
	return nil, errors.New("not implemented")
}

func (*fakeProvider) ExchangeCode(context.Context, string, string, string) (*provider.TokenResult, error) {
	return nil, errors.New("not implemented")
}

func (*fakeProvider) RefreshToken(context.Context, string) (*provider.TokenResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) M2MToken(_ context.Context, scopes ...string) (*provider.TokenResult, error) {
	f.m2mCalls++
	if f.m2mErr != nil {
		return nil, f.m2mErr
	}
	return &provider.TokenResult{
		AccessToken: "fresh-token",
		TokenType:   "Bearer",
		ExpiresIn:   3600,
		Scopes:      scopes,
	}, nil
}

func (*fakeProvider) UserInfo(context.Context, string) (map[string]any, error) {
	return nil, errors.New("not implemented")
}

func (*fakeProvider) AuthCodeURL(string, string, string) string { return "" }
func (*fakeProvider) LogoutURL(string) string                   { return "" }

func newTestRefresher(t *testing.T, p provider.Provider, opts Options) (*Refresher, *vault.Vault) {
	t.Helper()
	dir := t.TempDir()
	v := vault.New(dir)
	opts.PIDFile = filepath.Join(dir, "refresher.pid")
	gen := clientconfig.NewGenerator(v, nil)
	return New(v, p, gen, opts), v
}

func TestRunCycleRefreshesExpiringIngress(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{}
	r, v := newTestRefresher(t, fake, Options{Buffer: time.Hour})

	require.NoError(t, v.Write(vault.IngressFile(), &vault.Record{
		Provider:    "fake",
		Direction:   vault.DirectionIngress,
		AccessToken: "stale-token",
		ExpiresAt:   time.Now().Add(10 * time.Minute).Unix(),
		Scopes:      []string{"gateway/ingress"},
	}))

	r.runCycle(context.Background())

	assert.Equal(t, 1, fake.m2mCalls)
	rec := v.Read(vault.IngressFile())
	require.NotNil(t, rec)
	assert.Equal(t, "fresh-token", rec.AccessToken)
	assert.Greater(t, rec.ExpiresAt, time.Now().Add(50*time.Minute).Unix())

	// A refresh triggers client config regeneration.
	_, err := os.Stat(filepath.Join(v.Dir(), clientconfig.MCPConfigFile))
	assert.NoError(t, err)
}

func TestRunCycleSkipsFreshRecords(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{}
	r, v := newTestRefresher(t, fake, Options{Buffer: time.Hour})

	require.NoError(t, v.Write(vault.IngressFile(), &vault.Record{
		Provider:    "fake",
		Direction:   vault.DirectionIngress,
		AccessToken: "still-good",
		ExpiresAt:   time.Now().Add(3 * time.Hour).Unix(),
	}))

	r.runCycle(context.Background())

	assert.Zero(t, fake.m2mCalls)
	assert.Equal(t, "still-good", v.Read(vault.IngressFile()).AccessToken)
}

func TestRunCycleForceRefreshesEverything(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{}
	r, v := newTestRefresher(t, fake, Options{Buffer: time.Hour, Force: true})

	require.NoError(t, v.Write(vault.IngressFile(), &vault.Record{
		Provider:    "fake",
		Direction:   vault.DirectionIngress,
		AccessToken: "still-good",
		ExpiresAt:   time.Now().Add(24 * time.Hour).Unix(),
	}))

	r.runCycle(context.Background())
	assert.Equal(t, 1, fake.m2mCalls)
}

func TestRunCycleDefersRecordsWithoutRefreshPath(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{}
	r, v := newTestRefresher(t, fake, Options{Buffer: time.Hour})

	// Egress record with neither a refresh token nor a known endpoint.
	require.NoError(t, v.Write(vault.EgressFile("obscure"), &vault.Record{
		Provider:    "obscure",
		Direction:   vault.DirectionEgress,
		AccessToken: "stale",
		ExpiresAt:   time.Now().Add(time.Minute).Unix(),
	}))

	r.runCycle(context.Background())

	assert.Zero(t, fake.m2mCalls)
	assert.Equal(t, "stale", v.Read(vault.EgressFile("obscure")).AccessToken)
}

func TestRunCycleSurvivesPerRecordFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{m2mErr: errors.New("idp down")}
	r, v := newTestRefresher(t, fake, Options{Buffer: time.Hour})

	require.NoError(t, v.Write(vault.IngressFile(), &vault.Record{
		Provider:    "fake",
		Direction:   vault.DirectionIngress,
		AccessToken: "stale",
		ExpiresAt:   time.Now().Add(time.Minute).Unix(),
	}))

	r.runCycle(context.Background())

	// The stale record is left intact for the next cycle.
	assert.Equal(t, "stale", v.Read(vault.IngressFile()).AccessToken)
}

func TestFreshRecordCarriesIdentityFields(t *testing.T) {
	t.Parallel()

	r, _ := newTestRefresher(t, &fakeProvider{}, Options{})
	old := &vault.Record{
		Provider:     "keycloak",
		Direction:    vault.DirectionIngress,
		AccessToken:  "old",
		RefreshToken: "old-refresh",
		Realm:        "mcp",
		KeycloakURL:  "https://idp.example.com",
		ExpiresAt:    time.Now().Unix(),
	}

	fresh := r.freshRecord(old, &provider.TokenResult{
		AccessToken: "new",
		ExpiresIn:   7200,
	})

	assert.Equal(t, "new", fresh.AccessToken)
	assert.Equal(t, "old-refresh", fresh.RefreshToken)
	assert.Equal(t, "mcp", fresh.Realm)
	assert.Equal(t, "https://idp.example.com", fresh.KeycloakURL)
	assert.Greater(t, fresh.ExpiresAt, old.ExpiresAt)
	// The original record is untouched.
	assert.Equal(t, "old", old.AccessToken)
}

func TestStartOnceWritesAndRemovesPIDFile(t *testing.T) {
	t.Parallel()

	r, _ := newTestRefresher(t, &fakeProvider{}, Options{Once: true})

	require.NoError(t, r.Start(context.Background()))

	// The PID file is cleaned up on exit.
	_, err := os.Stat(r.opts.PIDFile)
	assert.True(t, os.IsNotExist(err))
}

func TestStartIgnoresStalePIDFile(t *testing.T) {
	t.Parallel()

	r, _ := newTestRefresher(t, &fakeProvider{}, Options{Once: true, NoKill: true})

	// A PID that cannot exist: stale file from a crashed instance.
	require.NoError(t, os.WriteFile(r.opts.PIDFile, []byte("999999999"), 0600))

	assert.NoError(t, r.Start(context.Background()))
}
