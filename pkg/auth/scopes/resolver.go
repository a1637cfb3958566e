package scopes

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/gatewaymesh/mcpgate/pkg/logger"
)

// MethodToolsCall is the only method whose authorization consults the
// per-entry tool list.
const MethodToolsCall = "tools/call"

// Resolver evaluates access decisions against an atomically swappable
// policy snapshot. A nil snapshot (policy file wholly absent at load)
// makes the resolver permissive; this is the only allow-by-default path
// and it is logged at warning level.
type Resolver struct {
	path   string
	policy atomic.Pointer[Policy]
	loaded atomic.Bool
}

// NewResolver loads the policy at path. A missing file is tolerated
// (permissive bootstrap); a present-but-invalid file is an error.
func NewResolver(path string) (*Resolver, error) {
	r := &Resolver{path: path}

	p, err := LoadPolicy(path)
	if err != nil {
		if os.IsNotExist(err) || errIsNotExist(err) {
			logger.Warnf("scope policy %s not found; all requests will be allowed until one is provided", path)
			return r, nil
		}
		return nil, err
	}

	r.policy.Store(p)
	r.loaded.Store(true)
	return r, nil
}

func errIsNotExist(err error) bool {
	for e := err; e != nil; {
		if os.IsNotExist(e) {
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

// Snapshot returns the current policy, or nil when no policy is loaded.
func (r *Resolver) Snapshot() *Policy {
	return r.policy.Load()
}

// MapGroups derives scopes from groups via the current policy snapshot.
func (r *Resolver) MapGroups(groups []string) []string {
	p := r.Snapshot()
	if p == nil {
		return nil
	}
	return p.MapGroups(groups)
}

// Authorize resolves (scopes, server, method, tool) to an allow/deny
// decision. First allow wins; an empty scope list is always denied.
func (r *Resolver) Authorize(principalScopes []string, server, method, tool string) bool {
	p := r.Snapshot()
	if p == nil {
		// Permissive bootstrap: no policy document exists at all.
		return true
	}

	if len(principalScopes) == 0 {
		return false
	}

	for _, scope := range principalScopes {
		entries, ok := p.Scopes[scope]
		if !ok {
			continue
		}
		for _, entry := range entries {
			if entry.Server != server {
				continue
			}
			if method == MethodToolsCall {
				if tool != "" && contains(entry.Tools, tool) {
					return true
				}
				continue
			}
			if contains(entry.Methods, method) {
				return true
			}
			// Older policy documents listed non-call methods under tools.
			if contains(entry.Tools, method) {
				return true
			}
		}
	}
	return false
}

// Watch re-reads the policy when its file changes, swapping the snapshot
// atomically. It blocks until ctx is cancelled.
func (r *Resolver) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the containing directory: editors and atomic writers replace
	// the file rather than writing it in place.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			p, err := LoadPolicy(r.path)
			if err != nil {
				logger.Warnf("scope policy reload failed, keeping previous snapshot: %v", err)
				continue
			}
			r.policy.Store(p)
			r.loaded.Store(true)
			logger.Infof("scope policy reloaded: %d scopes, %d group mappings", len(p.Scopes), len(p.GroupMappings))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("scope policy watcher error: %v", err)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
