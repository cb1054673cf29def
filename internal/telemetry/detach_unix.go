//go:build unix

package telemetry

import (
	"os/exec"
	"syscall"
)

// detach starts cmd in a new session so it is not killed with the hook's
// process group or terminal.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
