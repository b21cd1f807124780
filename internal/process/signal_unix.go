//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"
)

// terminate sends SIGTERM to the process group led by p, falling back to p alone.
func terminate(p *os.Process) error {
	return signalGroup(p, syscall.SIGTERM)
}

// kill sends SIGKILL to the process group led by p, falling back to p alone.
func kill(p *os.Process) error {
	return signalGroup(p, syscall.SIGKILL)
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	err := syscall.Kill(-p.Pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if err := p.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
