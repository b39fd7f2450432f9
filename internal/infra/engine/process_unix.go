//go:build !windows

package engine

import (
	"os/exec"
	"syscall"
)

// configureProcess puts the worker in its own process group so terminal
// signals aimed at the server do not reach it directly.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
