package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewaymesh/mcpgate/pkg/auth/session"
)

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestProvidersList(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &stubProvider{})
	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/oauth2/providers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Providers []map[string]string `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Providers, 1)
	assert.Equal(t, "stub", body.Providers[0]["name"])
}

func TestLoginRedirect(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &stubProvider{})
	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/oauth2/login/stub", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	assert.Contains(t, location, "code_challenge=")

	cookies := rec.Result().Cookies()
	state := cookieByName(cookies, stateCookie)
	require.NotNil(t, state)
	assert.Contains(t, location, "state="+state.Value)
	assert.NotNil(t, cookieByName(cookies, verifierCookie))
}

func TestLoginUnknownProvider(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &stubProvider{})
	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/oauth2/login/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallbackIssuesSession(t *testing.T) {
	t.Parallel()

	stub := &stubProvider{userInfo: map[string]any{
		"preferred_username": "alice",
		"groups":             []any{"mcp-registry-user"},
	}}
	s := newTestServer(t, stub)

	req := httptest.NewRequest(http.MethodGet, "/oauth2/callback/stub?code=auth-code&state=st-123", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "st-123"})
	req.AddCookie(&http.Cookie{Name: verifierCookie, Value: "pkce-verifier"})

	rec := doRequest(t, s, req)
	require.Equal(t, http.StatusFound, rec.Code)

	sess := cookieByName(rec.Result().Cookies(), session.CookieName)
	require.NotNil(t, sess)
	assert.True(t, sess.HttpOnly)

	payload, err := session.NewSigner(testSecret).Verify(sess.Value, session.DefaultMaxAge)
	require.NoError(t, err)
	assert.Equal(t, "alice", payload.Username)
	assert.Equal(t, []string{"mcp-registry-user"}, payload.Groups)
	assert.True(t, payload.IsOAuth)
}

func TestCallbackStateMismatch(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &stubProvider{})

	req := httptest.NewRequest(http.MethodGet, "/oauth2/callback/stub?code=auth-code&state=attacker", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "legit"})
	req.AddCookie(&http.Cookie{Name: verifierCookie, Value: "pkce-verifier"})

	rec := doRequest(t, s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, cookieByName(rec.Result().Cookies(), session.CookieName))
}

func TestCallbackMissingCode(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &stubProvider{})

	req := httptest.NewRequest(http.MethodGet, "/oauth2/callback/stub?state=st-1", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "st-1"})
	req.AddCookie(&http.Cookie{Name: verifierCookie, Value: "v"})

	rec := doRequest(t, s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutClearsSessionAndRedirects(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &stubProvider{})

	req := httptest.NewRequest(http.MethodGet, "/oauth2/logout/stub", nil)
	req.AddCookie(sessionCookie(t, "mcp-registry-user"))

	rec := doRequest(t, s, req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "idp.example.com/logout")

	cleared := cookieByName(rec.Result().Cookies(), session.CookieName)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)
}
