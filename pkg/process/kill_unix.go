//go:build !windows

package process

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/gatewaymesh/mcpgate/pkg/logger"
)

// killWaitTimeout is how long a terminated instance gets to exit cleanly
// before it is killed outright.
const killWaitTimeout = 10 * time.Second

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}

// Terminate stops the process gracefully, escalating to SIGKILL when it
// does not exit within the wait window.
func Terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if err == os.ErrProcessDone {
			return nil
		}
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}

	deadline := time.Now().Add(killWaitTimeout)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	logger.Warnf("process %d did not exit after SIGTERM, sending SIGKILL", pid)
	if err := proc.Signal(syscall.SIGKILL); err != nil && err != os.ErrProcessDone {
		return fmt.Errorf("failed to kill process %d: %w", pid, err)
	}
	return nil
}
