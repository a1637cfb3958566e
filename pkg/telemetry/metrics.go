// Package telemetry exposes prometheus counters for the auth surface and
// an optional out-of-band metrics emitter.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ValidateDecisions counts /validate outcomes by decision and auth method.
var ValidateDecisions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mcpgate_validate_decisions_total",
		Help: "Validate endpoint decisions by outcome and authentication method.",
	},
	[]string{"decision", "auth_method"},
)

// TokensIssued counts self-signed tokens minted by the issuer.
var TokensIssued = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "mcpgate_tokens_issued_total",
		Help: "Self-signed tokens issued.",
	},
)

// RefreshOutcomes counts token refresher cycle results per provider.
var RefreshOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mcpgate_token_refreshes_total",
		Help: "Token refresh attempts by provider and outcome.",
	},
	[]string{"provider", "outcome"},
)

// ToolSearches counts tool discovery queries.
var ToolSearches = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "mcpgate_tool_searches_total",
		Help: "Tool discovery queries served.",
	},
)
