//go:build windows

package backend

import "os/exec"

// setDetached is a no-op on windows; Local backend cancellation there
// always goes through Cancel() -> Process.Kill(), never a signal.
func setDetached(cmd *exec.Cmd) {}
