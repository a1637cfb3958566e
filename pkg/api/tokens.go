package api

import (
	"errors"
	"net/http"

	"github.com/gatewaymesh/mcpgate/pkg/auth"
	"github.com/gatewaymesh/mcpgate/pkg/auth/session"
	"github.com/gatewaymesh/mcpgate/pkg/issuer"
	"github.com/gatewaymesh/mcpgate/pkg/logger"
	"github.com/gatewaymesh/mcpgate/pkg/telemetry"
)

// issueTokenRequest is the POST /internal/tokens body.
type issueTokenRequest struct {
	RequestedScopes []string `json:"requested_scopes"`
	ExpiresInHours  int      `json:"expires_in_hours"`
	Description     string   `json:"description"`
}

// handleIssueToken mints a self-signed token for the session's user. Only
// interactive sessions may issue tokens; bearer credentials cannot mint
// further credentials.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(session.CookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "session required")
		return
	}
	payload, err := s.signer.Verify(cookie.Value, s.cfg.SessionMaxAge)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid session")
		return
	}

	var req issueTokenRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.issuer.Issue(&issuer.Request{
		Username:        payload.Username,
		UserScopes:      s.resolver.MapGroups(payload.Groups),
		RequestedScopes: req.RequestedScopes,
		ExpiresInHours:  req.ExpiresInHours,
		Description:     req.Description,
	})
	if err != nil {
		var scopeErr *issuer.ScopeError
		switch {
		case errors.Is(err, issuer.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, issuer.ErrInvalidLifetime):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &scopeErr):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			logger.Errorf("token issuance failed: %v", err)
			writeError(w, http.StatusInternalServerError, "token issuance failed")
		}
		return
	}

	telemetry.TokensIssued.Inc()
	logger.Infow("token issued",
		"user_hash", auth.HashUsername(payload.Username),
		"expires_in", resp.ExpiresIn,
	)
	writeJSON(w, http.StatusOK, resp)
}
