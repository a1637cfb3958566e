package vault

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	v := New(filepath.Join(t.TempDir(), "vault"))
	rec := &Record{
		Provider:    "keycloak",
		Direction:   DirectionIngress,
		AccessToken: "access-123",
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
		Scopes:      []string{"gateway/ingress"},
	}

	require.NoError(t, v.Write(IngressFile(), rec))

	got := v.Read(IngressFile())
	require.NotNil(t, got)
	assert.Equal(t, "access-123", got.AccessToken)
	assert.Equal(t, DirectionIngress, got.Direction)
	assert.NotEmpty(t, got.SavedAt)
	assert.NotEmpty(t, got.ExpiresAtHuman)
}

func TestWritePermissions(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}

	dir := filepath.Join(t.TempDir(), "vault")
	v := New(dir)
	require.NoError(t, v.Write("atlassian-egress.json", &Record{
		Provider:    "atlassian",
		Direction:   DirectionEgress,
		AccessToken: "tok",
	}))

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())

	fileInfo, err := os.Stat(filepath.Join(dir, "atlassian-egress.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fileInfo.Mode().Perm())
}

func TestReadAbsentAndCorrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	v := New(dir)

	assert.Nil(t, v.Read("missing.json"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0600))
	assert.Nil(t, v.Read("broken.json"))
}

func TestInterruptedWriteLeavesOldRecordIntact(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "vault")
	v := New(dir)
	require.NoError(t, v.Write(IngressFile(), &Record{
		Provider:    "keycloak",
		Direction:   DirectionIngress,
		AccessToken: "old-token",
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
	}))

	// A crash between the temp write and the rename leaves a stray partial
	// temp file next to the real record.
	stray := filepath.Join(dir, "."+IngressFile()+".tmp-1234")
	require.NoError(t, os.WriteFile(stray, []byte(`{"provider":"keycloak","access_tok`), 0600))

	got := v.Read(IngressFile())
	require.NotNil(t, got)
	assert.Equal(t, "old-token", got.AccessToken)

	names, err := v.List()
	require.NoError(t, err)
	assert.Equal(t, []string{IngressFile()}, names)
}

func TestListSkipsDerivedConfigs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	v := New(dir)

	for _, name := range []string{
		"ingress.json",
		"atlassian-egress.json",
		"mcp.json",
		"vscode_mcp.json",
		"tokens-readable.json",
		".hidden.json",
		"notes.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0600))
	}

	names, err := v.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"atlassian-egress.json", "ingress.json"}, names)
}

func TestListAbsentDirectory(t *testing.T) {
	t.Parallel()

	names, err := New(filepath.Join(t.TempDir(), "nope")).List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestIsValid(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tests := []struct {
		name string
		rec  *Record
		want bool
	}{
		{"nil record", nil, false},
		{"no access token", &Record{ExpiresAt: now.Add(time.Hour).Unix()}, false},
		{"comfortably valid", &Record{AccessToken: "t", ExpiresAt: now.Add(time.Hour).Unix()}, true},
		{"inside skew", &Record{AccessToken: "t", ExpiresAt: now.Add(time.Minute).Unix()}, false},
		{"expired", &Record{AccessToken: "t", ExpiresAt: now.Add(-time.Hour).Unix()}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsValid(tt.rec, DefaultSkew))
		})
	}
}

func TestFileNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ingress.json", IngressFile())
	assert.Equal(t, "atlassian-egress.json", EgressFile("atlassian"))
	assert.Equal(t, "atlassian-jira-egress.json", ServerEgressFile("atlassian", "jira"))
	assert.Equal(t, "agent-travelbot-token.json", AgentTokenFile("travelbot"))
}
