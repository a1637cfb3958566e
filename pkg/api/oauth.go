package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/gatewaymesh/mcpgate/pkg/auth"
	"github.com/gatewaymesh/mcpgate/pkg/auth/session"
	"github.com/gatewaymesh/mcpgate/pkg/logger"
)

// Transient cookies carrying CSRF state and the PKCE verifier between
// login and callback. Both are short-lived and HttpOnly.
const (
	stateCookie    = "mcp_oauth_state"
	verifierCookie = "mcp_oauth_verifier"
	flowCookieAge  = 10 * time.Minute
)

// handleProviders lists the configured identity providers.
func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": []map[string]string{
			{"name": s.provider.Name(), "login_url": "/oauth2/login/" + s.provider.Name()},
		},
	})
}

// handleLogin starts the authorization-code flow with PKCE.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "provider") != s.provider.Name() {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	redirectURI := s.callbackURI(r)

	s.setFlowCookie(w, stateCookie, state)
	s.setFlowCookie(w, verifierCookie, verifier)

	http.Redirect(w, r,
		s.provider.AuthCodeURL(state, redirectURI, oauth2.S256ChallengeFromVerifier(verifier)),
		http.StatusFound)
}

// handleCallback completes the flow: state check, code exchange, userinfo
// lookup, session issue.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "provider") != s.provider.Name() {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	state, err := r.Cookie(stateCookie)
	if err != nil || state.Value == "" || state.Value != r.URL.Query().Get("state") {
		writeError(w, http.StatusBadRequest, "state mismatch")
		return
	}
	verifier, err := r.Cookie(verifierCookie)
	if err != nil || verifier.Value == "" {
		writeError(w, http.StatusBadRequest, "missing code verifier")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	s.clearCookie(w, stateCookie)
	s.clearCookie(w, verifierCookie)

	result, err := s.provider.ExchangeCode(r.Context(), code, s.callbackURI(r), verifier.Value)
	if err != nil {
		logger.Warnf("code exchange failed: %v", err)
		writeError(w, http.StatusBadGateway, "authorization code exchange failed")
		return
	}

	info, err := s.provider.UserInfo(r.Context(), result.AccessToken)
	if err != nil {
		logger.Warnf("userinfo lookup failed: %v", err)
		writeError(w, http.StatusBadGateway, "failed to fetch user info")
		return
	}

	username := stringClaim(info, "preferred_username", "username", "email", "sub")
	if username == "" {
		writeError(w, http.StatusBadGateway, "provider returned no usable identity")
		return
	}

	payload := &session.Payload{
		Username:     username,
		Groups:       groupsClaim(info),
		ProviderType: s.provider.Name(),
		IsOAuth:      true,
		SessionID:    uuid.NewString(),
		LoginTime:    time.Now().UTC().Format(time.RFC3339),
	}
	value, err := s.signer.Sign(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.SessionCookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	logger.Infow("login completed",
		"user_hash", auth.HashUsername(username),
		"provider", s.provider.Name(),
	)
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleLogout clears the session and redirects through the provider's
// logout endpoint.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearCookie(w, session.CookieName)

	redirect := r.URL.Query().Get("redirect_uri")
	if redirect == "" {
		redirect = "/"
	}
	if target := s.provider.LogoutURL(redirect); target != "" {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (s *Server) callbackURI(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/oauth2/callback/" + s.provider.Name()
}

func (s *Server) setFlowCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(flowCookieAge.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.SessionCookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

func stringClaim(claims map[string]any, names ...string) string {
	for _, name := range names {
		if v, ok := claims[name].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func groupsClaim(claims map[string]any) []string {
	for _, name := range []string{"groups", "cognito:groups"} {
		switch v := claims[name].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		case []string:
			if len(v) > 0 {
				return v
			}
		}
	}
	return nil
}
