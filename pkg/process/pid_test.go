package process

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFileRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), PIDFileName)
	require.NoError(t, WritePIDFile(path, 12345))

	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)

	require.NoError(t, RemovePIDFile(path))
	_, err = ReadPIDFile(path)
	assert.Error(t, err)

	// Removing an absent file is not an error.
	assert.NoError(t, RemovePIDFile(path))
}

func TestWriteCurrentPIDFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), PIDFileName)
	require.NoError(t, WriteCurrentPIDFile(path))

	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestReadPIDFileRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), PIDFileName)
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0600))

	_, err := ReadPIDFile(path)
	assert.Error(t, err)
}

func TestPIDFilePath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("/var/run/gateway", PIDFileName), PIDFilePath("/var/run/gateway"))
}

func TestAlive(t *testing.T) {
	t.Parallel()

	assert.True(t, Alive(os.Getpid()))
	assert.False(t, Alive(0))
	assert.False(t, Alive(-1))
}
