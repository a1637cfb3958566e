package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gatewaymesh/mcpgate/pkg/logger"
)

// Emitter posts JSON events to an out-of-band metrics service. An emitter
// constructed without a URL is a no-op; emission failures are logged at
// debug level and never surface to callers.
type Emitter struct {
	url    string
	apiKey string
	client *http.Client
}

// Event is one metrics event.
type Event struct {
	Name      string         `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// NewEmitter creates an emitter. An empty url disables emission silently.
func NewEmitter(url, apiKey string) *Emitter {
	return &Emitter{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Emit sends one event, best effort.
func (e *Emitter) Emit(ctx context.Context, name string, fields map[string]any) {
	if e == nil || e.url == "" {
		return
	}

	body, err := json.Marshal(Event{Name: name, Timestamp: time.Now().UTC(), Fields: fields})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("X-API-Key", e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		logger.Debugf("metrics emission failed: %v", err)
		return
	}
	resp.Body.Close()
}
