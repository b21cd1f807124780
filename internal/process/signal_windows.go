//go:build windows

package process

import (
	"errors"
	"os"
)

// terminate has no graceful equivalent for console-less children on Windows; it kills.
func terminate(p *os.Process) error {
	return kill(p)
}

func kill(p *os.Process) error {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
