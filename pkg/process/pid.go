// Package process provides PID file handling and single-instance
// enforcement for the token refresher.
package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDFileName is the refresher's PID file, written at the project root.
const PIDFileName = "token_refresher.pid"

// PIDFilePath returns the PID file path under root.
func PIDFilePath(root string) string {
	return filepath.Clean(filepath.Join(root, PIDFileName))
}

// WritePIDFile records pid at path.
func WritePIDFile(path string, pid int) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// WriteCurrentPIDFile records the current process ID at path.
func WriteCurrentPIDFile(path string) error {
	return WritePIDFile(path, os.Getpid())
}

// ReadPIDFile reads the process ID recorded at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse PID: %w", err)
	}
	return pid, nil
}

// RemovePIDFile removes the PID file, tolerating absence.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
