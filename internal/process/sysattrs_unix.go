//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so the
// encoder and any helpers it forks can be signalled together.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
