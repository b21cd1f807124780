package process

import (
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/camrelay/internal/logger"
)

// DefaultStderrLines is how many trailing stderr lines a handle keeps for diagnostics.
const DefaultStderrLines = 64

// Spec describes one external process to launch.
type Spec struct {
	Name    string            `json:"name"`
	Path    string            `json:"path"`           // executable, resolved via PATH when not absolute
	Args    []string          `json:"args"`           // arguments passed verbatim, no shell
	WorkDir string            `json:"work_dir"`       // optional working dir
	Env     []string          `json:"env,omitempty"`  // optional extra env appended to the parent's
	Log     logger.FileConfig `json:"log"`            // optional rotating stdout/stderr files
	Lines   int               `json:"stderr_lines"`   // stderr ring capacity, DefaultStderrLines when 0
	Grace   time.Duration     `json:"grace,omitzero"` // delay between Wait returning and pipes being force-closed
}

// BuildCommand constructs the *exec.Cmd for the spec without starting it.
func (s Spec) BuildCommand() *exec.Cmd {
	// #nosec G204 -- binaries and arguments come from operator configuration
	cmd := exec.Command(s.Path, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(s.Env) > 0 {
		cmd.Env = append(cmd.Environ(), s.Env...)
	}
	cmd.WaitDelay = s.grace()
	configureSysProcAttr(cmd)
	return cmd
}

// CommandLine renders the invocation for logging.
func (s Spec) CommandLine() string {
	parts := make([]string, 0, len(s.Args)+1)
	parts = append(parts, s.Path)
	for _, a := range s.Args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = `"` + strings.ReplaceAll(a, `"`, `\"`) + `"`
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

func (s Spec) lines() int {
	if s.Lines <= 0 {
		return DefaultStderrLines
	}
	return s.Lines
}

func (s Spec) grace() time.Duration {
	if s.Grace <= 0 {
		return time.Second
	}
	return s.Grace
}
