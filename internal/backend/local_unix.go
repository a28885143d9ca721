//go:build !windows

package backend

import (
	"os/exec"
	"syscall"
)

// setDetached places the child in its own process group so it does not
// receive signals delivered to the orchestrator's controlling terminal.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
