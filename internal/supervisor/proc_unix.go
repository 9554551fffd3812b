//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// setProcessGroup places the spawned JVM in its own process group so
// killProcessTree can signal it and every descendant together.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// killProcessTree sends SIGKILL to the whole process group started by
// setProcessGroup.
func killProcessTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
