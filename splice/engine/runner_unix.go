//go:build unix

package engine

import (
	"os/exec"
	"syscall"
)

// configureKill puts the tool in its own process group so that a
// timeout also takes down anything it spawned.
func configureKill(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
