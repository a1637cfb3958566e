// Package api exposes the auth server's HTTP surface: the validate
// endpoint consumed by the reverse proxy's auth_request, the OAuth login
// flow, token issuance, tool discovery, and operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatewaymesh/mcpgate/pkg/auth/provider"
	"github.com/gatewaymesh/mcpgate/pkg/auth/scopes"
	"github.com/gatewaymesh/mcpgate/pkg/auth/selfsigned"
	"github.com/gatewaymesh/mcpgate/pkg/auth/session"
	"github.com/gatewaymesh/mcpgate/pkg/config"
	"github.com/gatewaymesh/mcpgate/pkg/index"
	"github.com/gatewaymesh/mcpgate/pkg/issuer"
	"github.com/gatewaymesh/mcpgate/pkg/logger"
	"github.com/gatewaymesh/mcpgate/pkg/telemetry"
)

// shutdownTimeout bounds graceful drain on exit.
const shutdownTimeout = 10 * time.Second

// Server wires the auth components behind a chi router.
type Server struct {
	cfg      *config.Settings
	signer   *session.Signer
	minter   *selfsigned.Minter
	provider provider.Provider
	resolver *scopes.Resolver
	issuer   *issuer.Issuer
	finder   *index.Finder
	emitter  *telemetry.Emitter
}

// NewServer assembles a server from already-constructed components. The
// finder may be nil when no tool index is configured.
func NewServer(
	cfg *config.Settings,
	signer *session.Signer,
	minter *selfsigned.Minter,
	p provider.Provider,
	resolver *scopes.Resolver,
	iss *issuer.Issuer,
	finder *index.Finder,
	emitter *telemetry.Emitter,
) *Server {
	return &Server{
		cfg:      cfg,
		signer:   signer,
		minter:   minter,
		provider: p,
		resolver: resolver,
		issuer:   iss,
		finder:   finder,
		emitter:  emitter,
	}
}

// Router builds the HTTP routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/validate", s.handleValidate)
	r.Get("/health", s.handleHealth)
	r.Get("/config", s.handleConfig)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/oauth2", func(r chi.Router) {
		r.Get("/providers", s.handleProviders)
		r.Get("/login/{provider}", s.handleLogin)
		r.Get("/callback/{provider}", s.handleCallback)
		r.Get("/logout/{provider}", s.handleLogout)
	})

	r.Post("/internal/tokens", s.handleIssueToken)
	r.Post("/api/tools/search", s.handleToolSearch)

	return r
}

// Serve runs the HTTP server until ctx is cancelled, then drains.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("auth server listening on %s", s.cfg.Address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return srv.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleConfig reports the non-secret runtime configuration.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"auth_provider":            s.cfg.AuthProvider,
		"session_max_age_seconds":  int(s.cfg.SessionMaxAge.Seconds()),
		"max_token_lifetime_hours": s.cfg.MaxTokenLifetimeHours,
		"scope_policy_loaded":      s.resolver.Snapshot() != nil,
		"tool_search_enabled":      s.finder != nil,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Debugf("failed to write response body: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// decodeJSONBody parses a bounded request body into dst.
func decodeJSONBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}
