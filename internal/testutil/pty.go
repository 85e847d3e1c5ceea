// Package testutil provides helpers for tests that need real pseudo-terminals.
package testutil

import (
	"os/exec"
	"testing"

	"github.com/creack/pty"
)

// StartPTYHolder launches a sleep process attached to a fresh PTY and
// returns its PID. The process and PTY are cleaned up when the test ends.
// Skips the test when the platform cannot allocate a PTY (minimal containers
// without a devpts mount).
func StartPTYHolder(t *testing.T) int {
	t.Helper()

	cmd := exec.Command("sleep", "60")
	ptmx, err := pty.Start(cmd)
	if err != nil {
		t.Skipf("cannot allocate PTY: %v", err)
	}
	t.Cleanup(func() {
		_ = ptmx.Close()
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})
	return cmd.Process.Pid
}
