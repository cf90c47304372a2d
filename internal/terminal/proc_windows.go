//go:build windows

package terminal

import (
	"os"
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// terminate is a no-op on Windows. The caller has already closed stdin,
// which makes a shell reading commands from "-" exit; kill follows after
// the grace period if it does not.
func terminate(*os.Process) error {
	return nil
}

func kill(p *os.Process) error {
	return p.Kill()
}
