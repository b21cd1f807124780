// Package capture supervises the encoder process that reads the webcam and
// publishes it to the relay.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/camrelay/internal/env"
	"github.com/loykin/camrelay/internal/history"
	"github.com/loykin/camrelay/internal/logger"
	"github.com/loykin/camrelay/internal/metrics"
	"github.com/loykin/camrelay/internal/preflight"
	"github.com/loykin/camrelay/internal/process"
)

// Name labels the encoder in logs, metrics and history.
const Name = "encoder"

const (
	DefaultProbeDelay  = 2 * time.Second
	DefaultStopTimeout = 5 * time.Second
)

// ErrCaptureStart is matched when neither device selection strategy stayed up.
var ErrCaptureStart = errors.New("capture failed to start")

// CaptureStartError carries the diagnostics of both failed attempts.
type CaptureStartError struct {
	PrimaryExit    string
	PrimaryStderr  string
	FallbackExit   string
	FallbackStderr string
}

func (e *CaptureStartError) Error() string {
	return fmt.Sprintf("%s: %s failed (%s), %s failed (%s)", ErrCaptureStart, ByName, e.PrimaryExit, ByIndex, e.FallbackExit)
}

func (e *CaptureStartError) Unwrap() error { return ErrCaptureStart }

// State is the capture supervisor lifecycle state.
type State int

const (
	NotStarted State = iota
	Starting
	Running
	Failed
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Failed:
		return "failed"
	default:
		return "not_started"
	}
}

// Config configures the capture supervisor.
type Config struct {
	Encoder     string
	API         preflight.CaptureAPI
	DeviceName  string
	DeviceIndex int
	Port        int
	StreamPath  string
	Encoding    Encoding
	ProbeDelay  time.Duration
	StopTimeout time.Duration
	Env         []string // extra K=V entries, ${VAR} expanded
	Log         logger.FileConfig
}

func (c Config) withDefaults() Config {
	if c.Encoder == "" {
		c.Encoder = "ffmpeg"
	}
	if c.API == "" {
		c.API = preflight.DefaultCaptureAPI()
	}
	if c.ProbeDelay <= 0 {
		c.ProbeDelay = DefaultProbeDelay
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	c.Encoding = c.Encoding.withDefaults()
	return c
}

// Spec returns the process spec for strategy s.
func (c Config) Spec(s Strategy) process.Spec {
	return process.Spec{Name: Name, Path: c.Encoder, Args: c.Args(s), Env: env.Expand(c.Env), Log: c.Log}
}

// Status summarizes the supervisor for the status API.
type Status struct {
	State    string          `json:"state"`
	Strategy string          `json:"strategy,omitempty"`
	Restarts int             `json:"restarts"`
	Process  *process.Status `json:"process,omitempty"`
}

// Supervisor owns the encoder process handle.
type Supervisor struct {
	cfg      Config
	logger   *slog.Logger
	recorder *history.Recorder

	op sync.Mutex // serializes Start, Restart and Stop

	mu       sync.Mutex
	proc     *process.Process
	state    State
	strategy Strategy
	restarts int
}

// New returns a capture supervisor. recorder may be nil.
func New(cfg Config, logger *slog.Logger, recorder *history.Recorder) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cfg: cfg.withDefaults(), logger: logger.With("process", Name), recorder: recorder}
}

// Config returns the effective configuration.
func (s *Supervisor) Config() Config { return s.cfg }

// Start launches the encoder by name and, if it exits within the probe delay,
// once more by index. When both exit it returns a *CaptureStartError.
func (s *Supervisor) Start(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.setState(Starting)
	primary, err := s.attempt(ctx, ByName)
	if err != nil {
		return err
	}
	if primary.alive {
		s.markRunning(primary.proc, ByName)
		return nil
	}
	s.logger.Error("FFmpeg failed to start", "strategy", ByName, "exit", primary.exit, "stderr", primary.stderr)
	s.logger.Info("trying alternative command")
	metrics.IncFallback()
	s.recorder.Emit(history.EventFallback, history.Record{Name: Name, PID: primary.pid, Strategy: ByIndex.String(), Status: "starting", Error: primary.exit})

	fallback, err := s.attempt(ctx, ByIndex)
	if err != nil {
		return err
	}
	if fallback.alive {
		s.markRunning(fallback.proc, ByIndex)
		return nil
	}
	s.logger.Error("alternative command also failed", "strategy", ByIndex, "exit", fallback.exit, "stderr", fallback.stderr)
	s.setState(Failed)
	metrics.IncCaptureStartFailure()
	return &CaptureStartError{
		PrimaryExit:    primary.exit,
		PrimaryStderr:  primary.stderr,
		FallbackExit:   fallback.exit,
		FallbackStderr: fallback.stderr,
	}
}

type attemptResult struct {
	proc   *process.Process
	alive  bool
	pid    int
	exit   string
	stderr string
}

// attempt launches strategy st and reports whether it survived the probe delay.
// The probe returns early when the process exits. A launch error counts as an exit.
func (s *Supervisor) attempt(ctx context.Context, st Strategy) (attemptResult, error) {
	p, err := s.launch(st)
	if err != nil {
		return attemptResult{exit: err.Error()}, nil
	}
	t := time.NewTimer(s.cfg.ProbeDelay)
	defer t.Stop()
	select {
	case <-p.Done():
	case <-t.C:
	case <-ctx.Done():
		s.stopHandle(p)
		s.mu.Lock()
		s.proc = nil
		s.state = NotStarted
		s.mu.Unlock()
		return attemptResult{}, ctx.Err()
	}
	if p.Alive() {
		return attemptResult{proc: p, alive: true, pid: p.PID()}, nil
	}
	return attemptResult{proc: p, pid: p.PID(), exit: p.Snapshot().Exit, stderr: p.Stderr(0)}, nil
}

func (s *Supervisor) launch(st Strategy) (*process.Process, error) {
	spec := s.cfg.Spec(st)
	s.logger.Info("starting FFmpeg stream", "strategy", st, "command", spec.CommandLine())
	p, err := process.Start(spec)
	if err != nil {
		s.mu.Lock()
		s.proc = nil
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Lock()
	s.proc = p
	s.strategy = st
	s.mu.Unlock()
	metrics.IncStart(Name)
	return p, nil
}

func (s *Supervisor) markRunning(p *process.Process, st Strategy) {
	s.setState(Running)
	s.recorder.Emit(history.EventStart, history.Record{Name: Name, PID: p.PID(), Strategy: st.String(), Status: "running"})
	s.logger.Info("RTSP stream started", "url", s.cfg.PublishURL(), "strategy", st, "pid", p.PID())
}

// Restart stops the current encoder (best effort) and relaunches it by index
// without a probe.
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	old := s.proc
	s.mu.Unlock()
	if old != nil {
		s.stopHandle(old)
	}
	p, err := s.launch(ByIndex)
	if err != nil {
		s.setState(Failed)
		return fmt.Errorf("restart encoder: %w", err)
	}
	s.mu.Lock()
	s.restarts++
	s.state = Running
	s.mu.Unlock()
	metrics.IncRestart(Name)
	s.recorder.Emit(history.EventRestart, history.Record{Name: Name, PID: p.PID(), Strategy: ByIndex.String(), Status: "running"})
	return nil
}

// Stop terminates the encoder (best effort); the state returns to NotStarted.
func (s *Supervisor) Stop() {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	p := s.proc
	s.proc = nil
	s.state = NotStarted
	s.mu.Unlock()
	if p == nil {
		return
	}
	wasAlive := p.Alive()
	s.stopHandle(p)
	if wasAlive {
		metrics.IncStop(Name)
		s.recorder.Emit(history.EventStop, history.Record{Name: Name, PID: p.PID(), Status: "stopped"})
	}
}

func (s *Supervisor) stopHandle(p *process.Process) {
	if err := p.Stop(s.cfg.StopTimeout); err != nil {
		s.logger.Debug("encoder stop", "pid", p.PID(), "error", err)
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Process returns the current handle, or nil.
func (s *Supervisor) Process() *process.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// Alive reports whether the current encoder process is running.
func (s *Supervisor) Alive() bool {
	p := s.Process()
	return p != nil && p.Alive()
}

// State returns the lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Strategy returns the strategy of the current or last launched process.
func (s *Supervisor) Strategy() Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy
}

// Restarts counts restarts since the supervisor was created.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Status returns a snapshot for reporting.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state.String(), Restarts: s.restarts}
	if s.proc != nil {
		snap := s.proc.Snapshot()
		st.Process = &snap
		st.Strategy = s.strategy.String()
	}
	return st
}
