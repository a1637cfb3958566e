package scopes

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPolicy = `
group_mappings:
  mcp-registry-user:
    - mcp-servers-restricted/read
  mcp-registry-admin:
    - mcp-servers-unrestricted/read
    - mcp-servers-unrestricted/execute
scopes:
  mcp-servers-restricted/read:
    - server: currenttime
      methods:
        - initialize
        - tools/list
      tools:
        - current_time_by_timezone
  mcp-servers-unrestricted/execute:
    - server: currenttime
      methods:
        - initialize
        - tools/list
        - tools/call
      tools:
        - current_time_by_timezone
    - server: fininfo
      methods:
        - initialize
        - tools/call
      tools:
        - get_stock_aggregates
`

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scopes.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestMapGroups(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(writePolicy(t, testPolicy))
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"mcp-servers-restricted/read"},
		r.MapGroups([]string{"mcp-registry-user"}))

	// De-duplicated, first-seen order preserved, unknown groups ignored.
	assert.Equal(t,
		[]string{"mcp-servers-restricted/read", "mcp-servers-unrestricted/read", "mcp-servers-unrestricted/execute"},
		r.MapGroups([]string{"mcp-registry-user", "mcp-registry-admin", "mcp-registry-user", "unknown"}))

	assert.Empty(t, r.MapGroups(nil))
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(writePolicy(t, testPolicy))
	require.NoError(t, err)

	read := []string{"mcp-servers-restricted/read"}
	execute := []string{"mcp-servers-unrestricted/execute"}

	tests := []struct {
		name   string
		scopes []string
		server string
		method string
		tool   string
		want   bool
	}{
		{"listed method allowed", read, "currenttime", "tools/list", "", true},
		{"unlisted method denied", read, "currenttime", "tools/call", "current_time_by_timezone", false},
		{"unknown server denied", read, "fininfo", "initialize", "", false},
		{"tools/call with listed tool", execute, "currenttime", "tools/call", "current_time_by_timezone", true},
		{"tools/call with unlisted tool", execute, "currenttime", "tools/call", "delete_everything", false},
		{"tools/call without tool name", execute, "currenttime", "tools/call", "", false},
		{"second entry same scope", execute, "fininfo", "tools/call", "get_stock_aggregates", true},
		{"empty scopes always denied", nil, "currenttime", "initialize", "", false},
		{"unknown scope denied", []string{"nonexistent"}, "currenttime", "initialize", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, r.Authorize(tt.scopes, tt.server, tt.method, tt.tool))
		})
	}
}

func TestAuthorizeLegacyMethodInTools(t *testing.T) {
	t.Parallel()

	// Older documents listed non-call methods under tools.
	r, err := NewResolver(writePolicy(t, `
scopes:
  legacy/read:
    - server: currenttime
      tools:
        - initialize
        - tools/list
`))
	require.NoError(t, err)

	assert.True(t, r.Authorize([]string{"legacy/read"}, "currenttime", "tools/list", ""))
	assert.False(t, r.Authorize([]string{"legacy/read"}, "currenttime", "tools/call", "initialize"))
}

func TestMissingPolicyIsPermissive(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)

	assert.Nil(t, r.Snapshot())
	assert.True(t, r.Authorize(nil, "anything", "tools/call", "any_tool"))
}

func TestInvalidPolicyFailsClosed(t *testing.T) {
	t.Parallel()

	_, err := NewResolver(writePolicy(t, "scopes: [not a map"))
	assert.Error(t, err)
}

func TestWatchReloadsPolicy(t *testing.T) {
	t.Parallel()

	path := writePolicy(t, testPolicy)
	r, err := NewResolver(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Watch(ctx) }()

	// Let the watcher attach before replacing the file.
	time.Sleep(100 * time.Millisecond)

	updated := `
scopes:
  mcp-servers-restricted/read:
    - server: newserver
      methods:
        - initialize
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0600))

	require.Eventually(t, func() bool {
		return r.Authorize([]string{"mcp-servers-restricted/read"}, "newserver", "initialize", "")
	}, 3*time.Second, 50*time.Millisecond)

	// The old grant is gone with the swap.
	assert.False(t, r.Authorize([]string{"mcp-servers-restricted/read"}, "currenttime", "tools/list", ""))
}

func TestWatchKeepsSnapshotOnBadReload(t *testing.T) {
	t.Parallel()

	path := writePolicy(t, testPolicy)
	r, err := NewResolver(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("scopes: [broken"), 0600))
	time.Sleep(500 * time.Millisecond)

	// Previous snapshot still serves decisions.
	assert.True(t, r.Authorize([]string{"mcp-servers-restricted/read"}, "currenttime", "tools/list", ""))
}
