package engine

import (
	"os/exec"
	"syscall"
)

// configureProcess keeps worker processes from opening a console window.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow: true,
	}
}
