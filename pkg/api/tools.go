package api

import (
	"net/http"

	"github.com/gatewaymesh/mcpgate/pkg/auth"
	"github.com/gatewaymesh/mcpgate/pkg/index"
	"github.com/gatewaymesh/mcpgate/pkg/logger"
	"github.com/gatewaymesh/mcpgate/pkg/telemetry"
)

// toolSearchRequest is the POST /api/tools/search body.
type toolSearchRequest struct {
	Query        string `json:"natural_language_query"`
	TopKServices int    `json:"top_k_services"`
	TopNTools    int    `json:"top_n_tools"`
}

// toolSearchResponse wraps the ranked matches.
type toolSearchResponse struct {
	Results []index.ToolMatch `json:"results"`
}

// handleToolSearch ranks registered tools against a natural-language
// query. Any valid credential may search; discovery carries no
// per-server authorization.
func (s *Server) handleToolSearch(w http.ResponseWriter, r *http.Request) {
	principal, err := s.authenticate(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	if s.finder == nil {
		writeError(w, http.StatusServiceUnavailable, "tool search is not configured")
		return
	}

	var req toolSearchRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "natural_language_query is required")
		return
	}

	matches, err := s.finder.Find(r.Context(), req.Query, req.TopKServices, req.TopNTools)
	if err != nil {
		logger.Errorf("tool search failed: %v", err)
		writeError(w, http.StatusInternalServerError, "tool search failed")
		return
	}

	telemetry.ToolSearches.Inc()
	logger.Debugw("tool search served",
		"user_hash", auth.HashUsername(principal.Subject),
		"results", len(matches),
	)
	if matches == nil {
		matches = []index.ToolMatch{}
	}
	writeJSON(w, http.StatusOK, &toolSearchResponse{Results: matches})
}
