package provision

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes an external tool in dir.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) error
}

// ExecRunner runs tools with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	// #nosec G204 -- fixed tool names, arguments built by the provisioner
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return fmt.Errorf("%s: %w", name, err)
		}
		return fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return nil
}
