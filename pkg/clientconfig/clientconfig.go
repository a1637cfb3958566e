// Package clientconfig regenerates the downstream MCP client
// configuration files after a token refresh: one document keyed
// mcp.servers.<name> and one keyed mcpServers.<name>. Both are written
// atomically with 0600 permissions next to the token vault.
package clientconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gatewaymesh/mcpgate/pkg/logger"
	"github.com/gatewaymesh/mcpgate/pkg/vault"
)

// File names of the derived configurations.
const (
	MCPConfigFile    = "mcp.json"
	VSCodeConfigFile = "vscode_mcp.json"
)

// Server describes one gateway-fronted MCP server endpoint.
type Server struct {
	Name string
	URL  string
}

// mcpServerEntry is the shape under mcp.servers.<name>.
type mcpServerEntry struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// vscodeServerEntry is the shape under mcpServers.<name>.
type vscodeServerEntry struct {
	Type        string            `json:"type"`
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers,omitempty"`
	Disabled    bool              `json:"disabled"`
	AlwaysAllow []string          `json:"alwaysAllow"`
}

// Generator builds client configurations from the vault's current tokens.
type Generator struct {
	vault   *vault.Vault
	servers []Server
}

// NewGenerator creates a generator for the given servers.
func NewGenerator(v *vault.Vault, servers []Server) *Generator {
	return &Generator{vault: v, servers: servers}
}

// Regenerate writes both configuration documents. Each server entry
// carries the ingress bearer token plus provider identifiers, overlaid
// with any per-server egress token header.
func (g *Generator) Regenerate() error {
	ingress := g.vault.Read(vault.IngressFile())
	if ingress == nil {
		logger.Warn("no ingress token available; client configurations will omit authorization headers")
	}

	mcpServers := make(map[string]mcpServerEntry)
	vscodeServers := make(map[string]vscodeServerEntry)

	for _, server := range g.servers {
		headers := g.headersFor(server.Name, ingress)
		mcpServers[server.Name] = mcpServerEntry{URL: server.URL, Headers: headers}
		vscodeServers[server.Name] = vscodeServerEntry{
			Type:        "sse",
			URL:         server.URL,
			Headers:     headers,
			Disabled:    false,
			AlwaysAllow: []string{},
		}
	}

	mcpDoc := map[string]any{"mcp": map[string]any{"servers": mcpServers}}
	if err := g.writeJSON(MCPConfigFile, mcpDoc); err != nil {
		return err
	}

	vscodeDoc := map[string]any{"mcpServers": vscodeServers}
	if err := g.writeJSON(VSCodeConfigFile, vscodeDoc); err != nil {
		return err
	}

	logger.Infof("regenerated client configurations for %d servers", len(g.servers))
	return nil
}

// headersFor assembles the header set for one server entry.
func (g *Generator) headersFor(serverName string, ingress *vault.Record) map[string]string {
	headers := make(map[string]string)

	if ingress != nil {
		headers["Authorization"] = "Bearer " + ingress.AccessToken
		if ingress.UserPoolID != "" {
			headers["X-User-Pool-Id"] = ingress.UserPoolID
		}
		if ingress.Region != "" {
			headers["X-Region"] = ingress.Region
		}
	}

	// A server-scoped egress token takes precedence over the provider default.
	if egress := g.egressFor(serverName); egress != nil {
		headers["X-Egress-Token"] = egress.AccessToken
	}

	return headers
}

// egressFor finds the freshest applicable egress record for a server.
func (g *Generator) egressFor(serverName string) *vault.Record {
	names, err := g.vault.List()
	if err != nil {
		return nil
	}

	var fallback *vault.Record
	for _, name := range names {
		if !strings.HasSuffix(name, "-egress.json") {
			continue
		}
		rec := g.vault.Read(name)
		if rec == nil {
			continue
		}
		base := strings.TrimSuffix(name, "-egress.json")
		if base == rec.Provider+"-"+serverName {
			return rec
		}
		if base == rec.Provider {
			fallback = rec
		}
	}
	return fallback
}

// writeJSON writes a document atomically with 2-space indentation.
func (g *Generator) writeJSON(name string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", name, err)
	}
	data = append(data, '\n')

	dir := g.vault.Dir()
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions on %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file for %s: %w", name, err)
	}

	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	return nil
}

// SortedServerNames is a helper for deterministic logging and tests.
func SortedServerNames(servers []Server) []string {
	names := make([]string, len(servers))
	for i, s := range servers {
		names[i] = s.Name
	}
	sort.Strings(names)
	return names
}
