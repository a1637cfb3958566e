// Package scopes loads the scope policy document and resolves
// (scope, server, method, tool) tuples to allow/deny decisions.
package scopes

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerEntry grants, for one named server, the listed methods and (for
// tools/call) the listed tools.
type ServerEntry struct {
	Server  string   `yaml:"server"`
	Methods []string `yaml:"methods"`
	Tools   []string `yaml:"tools"`
}

// Policy is the parsed scope policy document: group mappings plus
// per-scope server entries.
type Policy struct {
	GroupMappings map[string][]string      `yaml:"group_mappings"`
	Scopes        map[string][]ServerEntry `yaml:"scopes"`
}

// LoadPolicy reads and parses the scope policy YAML document.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scope policy: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse scope policy: %w", err)
	}
	return &p, nil
}

// MapGroups derives the scope list for a set of groups, de-duplicating
// while preserving first-seen order.
func (p *Policy) MapGroups(groups []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, g := range groups {
		for _, scope := range p.GroupMappings[g] {
			if !seen[scope] {
				seen[scope] = true
				out = append(out, scope)
			}
		}
	}
	return out
}
