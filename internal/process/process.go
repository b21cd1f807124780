package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrStopTimeout reports that a process ignored the graceful signal and had to be killed.
var ErrStopTimeout = errors.New("process did not exit within stop timeout")

// ErrNotStarted is returned by operations that need a running command.
var ErrNotStarted = errors.New("process not started")

// killReapWait bounds how long Stop and Kill wait for the reaper after SIGKILL.
const killReapWait = 500 * time.Millisecond

// Process is a handle on one external process. The handle owns the only
// cmd.Wait call (its reaper goroutine), so liveness is read from the reaper's
// done channel instead of probing the PID.
type Process struct {
	spec Spec

	mu       sync.Mutex
	cmd      *exec.Cmd
	status   Status
	stopping bool
	waitDone chan struct{} // closed by the reaper when cmd.Wait returns
	closers  []io.Closer

	stderr *LineRing
}

// New returns an unstarted handle for spec.
func New(spec Spec) *Process {
	return &Process{spec: spec, stderr: NewLineRing(spec.lines())}
}

// Start launches spec and returns its handle.
func Start(spec Spec) (*Process, error) {
	p := New(spec)
	if err := p.Start(); err != nil {
		return nil, err
	}
	return p, nil
}

// Spec returns the spec the handle was created with.
func (p *Process) Spec() Spec { return p.spec }

// Start launches the command. A handle can be started once.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return fmt.Errorf("process %s already started", p.spec.Name)
	}

	cmd := p.spec.BuildCommand()
	outW, errW, err := p.spec.Log.Writers(p.spec.Name)
	if err != nil {
		return fmt.Errorf("open log files for %s: %w", p.spec.Name, err)
	}
	if outW != nil {
		cmd.Stdout = outW
		p.closers = append(p.closers, outW)
	}
	if errW != nil {
		cmd.Stderr = io.MultiWriter(p.stderr, errW)
		p.closers = append(p.closers, errW)
	} else {
		cmd.Stderr = p.stderr
	}

	if err := cmd.Start(); err != nil {
		p.closeWritersLocked()
		return fmt.Errorf("start %s: %w", p.spec.Name, err)
	}

	done := make(chan struct{})
	p.cmd = cmd
	p.waitDone = done
	p.status = Status{
		Name:      p.spec.Name,
		Running:   true,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
		Command:   p.spec.CommandLine(),
	}
	go p.reap(cmd, done)
	return nil
}

func (p *Process) reap(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	p.mu.Lock()
	p.status.Running = false
	p.status.StoppedAt = time.Now()
	p.status.ExitErr = err
	if err != nil {
		p.status.Exit = err.Error()
	} else {
		p.status.Exit = "exit status 0"
	}
	p.closeWritersLocked()
	close(done)
	p.mu.Unlock()
}

func (p *Process) closeWritersLocked() {
	for _, c := range p.closers {
		_ = c.Close()
	}
	p.closers = nil
}

// Done returns a channel closed once the process has exited and been reaped.
// It returns nil before Start.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitDone
}

// Alive reports whether the process has been started and not yet exited.
func (p *Process) Alive() bool {
	done := p.Done()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// PID returns the OS process id, or 0 before Start.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.PID
}

// StopRequested reports whether Stop or Kill has been called.
func (p *Process) StopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Stderr returns the last n captured stderr lines joined by newlines (all retained lines when n <= 0).
func (p *Process) Stderr(n int) string {
	return strings.Join(p.stderr.LastN(n), "\n")
}

// Wait blocks until the process exits or timeout elapses; it reports whether the process exited.
func (p *Process) Wait(timeout time.Duration) bool {
	done := p.Done()
	if done == nil {
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// Stop sends a graceful terminate to the process group and waits up to wait for
// it to exit. On timeout the group is killed and ErrStopTimeout is returned.
// Stopping an unstarted or exited process is a no-op.
func (p *Process) Stop(wait time.Duration) error {
	p.mu.Lock()
	cmd := p.cmd
	p.stopping = true
	p.mu.Unlock()
	if cmd == nil || !p.Alive() {
		return nil
	}

	if err := terminate(cmd.Process); err != nil && p.Alive() {
		_ = kill(cmd.Process)
		p.Wait(killReapWait)
		return fmt.Errorf("terminate %s: %w", p.spec.Name, err)
	}
	if p.Wait(wait) {
		return nil
	}
	_ = kill(cmd.Process)
	p.Wait(killReapWait)
	return fmt.Errorf("%s (pid %d): %w", p.spec.Name, cmd.Process.Pid, ErrStopTimeout)
}

// Kill force-kills the process group and waits briefly for the reaper.
func (p *Process) Kill() error {
	p.mu.Lock()
	cmd := p.cmd
	p.stopping = true
	p.mu.Unlock()
	if cmd == nil {
		return ErrNotStarted
	}
	if !p.Alive() {
		return nil
	}
	if err := kill(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	p.Wait(killReapWait)
	return nil
}
