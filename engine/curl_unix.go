//go:build unix

package engine

import (
	"os/exec"
	"syscall"
)

// killProcessGroup runs the child in its own process group and kills the
// whole group on cancellation, so a wrapper script cannot orphan curl.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
