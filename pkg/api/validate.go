package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gatewaymesh/mcpgate/pkg/auth"
	"github.com/gatewaymesh/mcpgate/pkg/auth/selfsigned"
	"github.com/gatewaymesh/mcpgate/pkg/auth/session"
	"github.com/gatewaymesh/mcpgate/pkg/logger"
	"github.com/gatewaymesh/mcpgate/pkg/mcp"
	"github.com/gatewaymesh/mcpgate/pkg/telemetry"
)

// Headers the reverse proxy sends alongside the auth subrequest.
const (
	headerOriginalURL = "X-Original-URL"
	headerBody        = "X-Body"
	headerAltBearer   = "X-Authorization"
)

// Headers returned to the proxy on allow, forwarded upstream.
const (
	headerUser       = "X-User"
	headerUsername   = "X-Username"
	headerClientID   = "X-Client-Id"
	headerScopes     = "X-Scopes"
	headerAuthMethod = "X-Auth-Method"
	headerServerName = "X-Server-Name"
	headerToolName   = "X-Tool-Name"
)

// handleValidate is the auth_request endpoint. It authenticates the
// credential, derives effective scopes, resolves the proxied request's
// (server, method, tool) triple, and answers allow or deny. The request
// body itself never reaches this endpoint; the proxy passes the JSON-RPC
// envelope in X-Body.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	clientIP := auth.AnonymizeIP(r.RemoteAddr)
	dumpHeaders(r)

	principal, err := s.authenticate(r)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrUpstreamProvider) {
			status = http.StatusInternalServerError
		}
		if status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		}
		telemetry.ValidateDecisions.WithLabelValues("deny_auth", "none").Inc()
		logger.Infow("validate denied",
			"reason", err.Error(),
			"client_ip", clientIP,
		)
		writeError(w, status, err.Error())
		return
	}

	// Self-signed tokens carry their scopes verbatim. Keycloak principals
	// always derive scopes from the policy's group mappings; other
	// principals use the token's own scopes when present and fall back to
	// the mapping (session cookies never carry scopes).
	switch {
	case principal.Method == auth.MethodSelfSigned:
	case principal.Method == auth.MethodKeycloak || len(principal.Scopes) == 0:
		principal.Scopes = s.resolver.MapGroups(principal.Groups)
	}

	serverName := firstPathSegment(r.Header.Get(headerOriginalURL))
	method, tool := parseEnvelopeHeader(r.Header.Get(headerBody))

	if serverName != "" && !s.resolver.Authorize(principal.Scopes, serverName, method, tool) {
		telemetry.ValidateDecisions.WithLabelValues("deny_scope", string(principal.Method)).Inc()
		logger.Infow("validate denied",
			"reason", "insufficient scope",
			"user_hash", auth.HashUsername(principal.Subject),
			"auth_method", principal.Method,
			"server", serverName,
			"method", method,
			"tool", tool,
			"client_ip", clientIP,
		)
		writeError(w, http.StatusForbidden, "access denied by scope policy")
		return
	}

	telemetry.ValidateDecisions.WithLabelValues("allow", string(principal.Method)).Inc()
	s.emitter.Emit(r.Context(), "auth_request", map[string]any{
		"decision":    "allow",
		"auth_method": principal.Method,
		"user_hash":   auth.HashUsername(principal.Subject),
		"server":      serverName,
		"mcp_method":  method,
	})
	logger.Debugw("validate allowed",
		"user_hash", auth.HashUsername(principal.Subject),
		"auth_method", principal.Method,
		"server", serverName,
		"method", method,
		"tool", tool,
		"client_ip", clientIP,
	)

	w.Header().Set(headerUser, principal.Subject)
	w.Header().Set(headerUsername, principal.Subject)
	if principal.ClientID != "" {
		w.Header().Set(headerClientID, principal.ClientID)
	}
	w.Header().Set(headerScopes, strings.Join(principal.Scopes, " "))
	w.Header().Set(headerAuthMethod, string(principal.Method))
	if serverName != "" {
		w.Header().Set(headerServerName, serverName)
	}
	if tool != "" {
		w.Header().Set(headerToolName, tool)
	}
	// MarshalJSON drops the raw claims, so the body is safe to return.
	writeJSON(w, http.StatusOK, principal)
}

// authenticate tries the session cookie first, then a bearer token. Bearer
// tokens are verified locally when self-signed and dispatched to the
// provider otherwise.
func (s *Server) authenticate(r *http.Request) (*auth.Principal, error) {
	if cookie, err := r.Cookie(session.CookieName); err == nil && cookie.Value != "" {
		payload, err := s.signer.Verify(cookie.Value, s.cfg.SessionMaxAge)
		if err != nil {
			return nil, err
		}
		return &auth.Principal{
			Subject: payload.Username,
			Groups:  payload.Groups,
			Method:  auth.MethodSession,
		}, nil
	}

	token := bearerToken(r)
	if token == "" {
		return nil, auth.ErrNoCredential
	}

	if selfsigned.IsSelfSigned(token) {
		return s.minter.Verify(token)
	}
	return s.provider.ValidateToken(r.Context(), token)
}

// bearerToken extracts a bearer credential from Authorization or, when the
// proxy consumed that header, X-Authorization.
func bearerToken(r *http.Request) string {
	for _, name := range []string{"Authorization", headerAltBearer} {
		value := r.Header.Get(name)
		if len(value) > 7 && strings.EqualFold(value[:7], "Bearer ") {
			return strings.TrimSpace(value[7:])
		}
	}
	return ""
}

// firstPathSegment extracts the gateway server name from the original
// request URL: "/currenttime/mcp" yields "currenttime".
func firstPathSegment(originalURL string) string {
	if originalURL == "" {
		return ""
	}
	path := originalURL
	if i := strings.Index(path, "://"); i >= 0 {
		path = path[i+3:]
		if j := strings.Index(path, "/"); j >= 0 {
			path = path[j:]
		} else {
			return ""
		}
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimPrefix(path, "/")
	if i := strings.Index(path, "/"); i >= 0 {
		path = path[:i]
	}
	return path
}

// dumpHeaders logs the subrequest headers at debug level with credential
// values redacted.
func dumpHeaders(r *http.Request) {
	fields := make([]any, 0, len(r.Header)*2)
	for name, values := range r.Header {
		value := ""
		if len(values) > 0 {
			value = values[0]
		}
		fields = append(fields, name, auth.RedactHeaderValue(name, value))
	}
	logger.Debugw("validate request headers", fields...)
}

// parseEnvelopeHeader extracts (method, tool) from the X-Body envelope.
// An absent or unparseable envelope yields empty values; the scope check
// then falls through to server-level entries only.
func parseEnvelopeHeader(body string) (string, string) {
	if body == "" {
		return "", ""
	}
	env, err := mcp.ParseEnvelope([]byte(body))
	if err != nil {
		logger.Debugf("unparseable request envelope: %v", err)
		return "", ""
	}
	return env.Method, env.ToolName
}
