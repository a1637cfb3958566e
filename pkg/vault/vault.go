// Package vault is the on-disk token store. Records are JSON files with
// 0600 permissions inside a 0700 directory, written via temp-file+rename
// so readers never observe a partial file.
package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gatewaymesh/mcpgate/pkg/logger"
)

// Directions a stored token can face.
const (
	// DirectionIngress marks the credential the gateway presents to its
	// own clients' upstream.
	DirectionIngress = "ingress"

	// DirectionEgress marks the credential presented to a downstream tool
	// server's external dependency.
	DirectionEgress = "egress"
)

// DefaultSkew is the validity skew applied by IsValid.
const DefaultSkew = 5 * time.Minute

// timeLayout renders expires_at_human and saved_at.
const timeLayout = "2006-01-02 15:04:05 MST"

// Record is one stored token.
type Record struct {
	Provider       string   `json:"provider"`
	Direction      string   `json:"direction"`
	AccessToken    string   `json:"access_token"`
	RefreshToken   string   `json:"refresh_token,omitempty"`
	ExpiresAt      int64    `json:"expires_at"`
	ExpiresAtHuman string   `json:"expires_at_human,omitempty"`
	TokenType      string   `json:"token_type,omitempty"`
	Scopes         []string `json:"scopes,omitempty"`

	// Provider-specific context carried for config regeneration.
	UserPoolID  string `json:"user_pool_id,omitempty"`
	Region      string `json:"region,omitempty"`
	CloudID     string `json:"cloud_id,omitempty"`
	Realm       string `json:"realm,omitempty"`
	KeycloakURL string `json:"keycloak_url,omitempty"`

	SavedAt string `json:"saved_at,omitempty"`
}

// Vault reads and writes token records under one directory.
type Vault struct {
	dir string
}

// New creates a vault rooted at dir. The directory is created lazily by
// the first write.
func New(dir string) *Vault {
	return &Vault{dir: dir}
}

// Dir returns the vault directory.
func (v *Vault) Dir() string { return v.dir }

// IngressFile is the process-wide inbound M2M token file name.
func IngressFile() string { return "ingress.json" }

// EgressFile names the default per-provider egress token file.
func EgressFile(provider string) string {
	return fmt.Sprintf("%s-egress.json", provider)
}

// ServerEgressFile names a server-scoped egress token file. It takes
// precedence over the provider default when both exist.
func ServerEgressFile(provider, server string) string {
	return fmt.Sprintf("%s-%s-egress.json", provider, server)
}

// AgentTokenFile names an agent-issued token file.
func AgentTokenFile(agent string) string {
	return fmt.Sprintf("agent-%s-token.json", agent)
}

// Write persists a record atomically at name, stamping saved_at and the
// human-readable expiry. A failure at any step leaves either the previous
// file or nothing at the destination, never a partial record.
func (v *Vault) Write(name string, rec *Record) error {
	if err := os.MkdirAll(v.dir, 0700); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}

	now := time.Now()
	rec.SavedAt = now.Format(timeLayout)
	if rec.ExpiresAt > 0 && rec.ExpiresAtHuman == "" {
		rec.ExpiresAtHuman = time.Unix(rec.ExpiresAt, 0).Format(timeLayout)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize token record: %w", err)
	}
	data = append(data, '\n')

	// Temp file in the same directory so the rename stays on one filesystem.
	tmp, err := os.CreateTemp(v.dir, "."+name+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if err := tmp.Chmod(0600); err != nil {
		cleanup()
		return fmt.Errorf("failed to set token file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write token record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(v.dir, name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move token record into place: %w", err)
	}
	return nil
}

// Read loads a record by name. An absent or unparseable file returns nil;
// corruption is logged and otherwise treated as absence.
func (v *Vault) Read(name string) *Record {
	data, err := os.ReadFile(filepath.Join(v.dir, name))
	if err != nil {
		return nil
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		logger.Warnf("token record %s is corrupt, treating as absent: %v", name, err)
		return nil
	}
	return &rec
}

// List returns the token record file names in the vault, skipping derived
// client configurations and anything human-readable.
func (v *Vault) List() ([]string, error) {
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list vault: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".json") || isDerivedConfig(name) || strings.HasPrefix(name, ".") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// IsValid reports whether the record's expiry is comfortably beyond now.
func IsValid(rec *Record, skew time.Duration) bool {
	if rec == nil || rec.AccessToken == "" {
		return false
	}
	return rec.ExpiresAt > time.Now().Add(skew).Unix()
}

// isDerivedConfig filters files the refresher regenerates rather than
// refreshes.
func isDerivedConfig(name string) bool {
	if name == "mcp.json" || name == "vscode_mcp.json" {
		return true
	}
	return strings.Contains(name, "readable")
}
