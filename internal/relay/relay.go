// Package relay supervises the RTSP relay (mediamtx) process.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/camrelay/internal/detector"
	"github.com/loykin/camrelay/internal/env"
	"github.com/loykin/camrelay/internal/history"
	"github.com/loykin/camrelay/internal/logger"
	"github.com/loykin/camrelay/internal/metrics"
	"github.com/loykin/camrelay/internal/process"
)

// Name labels the relay in logs, metrics and history.
const Name = "relay"

const (
	DefaultSettle      = 5 * time.Second
	DefaultStopTimeout = 5 * time.Second
	DefaultConfigPath  = "./mediamtx.yml"
)

// ErrExitedDuringStartup is returned when the relay dies inside the settle window.
var ErrExitedDuringStartup = errors.New("relay exited during startup")

// Config configures the relay supervisor.
type Config struct {
	Binary         string
	ConfigPath     string
	Port           int
	StreamPath     string
	Settle         time.Duration
	ReadinessProbe bool // poll the RTSP port and return as soon as it is bound
	StopTimeout    time.Duration
	Env            []string // extra K=V entries, ${VAR} expanded, e.g. MTX_LOGLEVEL=debug
	Log            logger.FileConfig
}

func (c Config) withDefaults() Config {
	if c.ConfigPath == "" {
		c.ConfigPath = DefaultConfigPath
	}
	if c.Settle <= 0 {
		c.Settle = DefaultSettle
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	return c
}

// Supervisor owns the relay process handle.
type Supervisor struct {
	cfg      Config
	logger   *slog.Logger
	recorder *history.Recorder

	mu   sync.Mutex
	proc *process.Process
}

// New returns a relay supervisor. recorder may be nil.
func New(cfg Config, logger *slog.Logger, recorder *history.Recorder) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cfg: cfg.withDefaults(), logger: logger.With("process", Name), recorder: recorder}
}

// Spec returns the process spec used to launch the relay.
func (s *Supervisor) Spec() (process.Spec, error) {
	cfgPath, err := filepath.Abs(s.cfg.ConfigPath)
	if err != nil {
		return process.Spec{}, err
	}
	bin := s.cfg.Binary
	if filepath.Base(bin) != bin {
		if bin, err = filepath.Abs(bin); err != nil {
			return process.Spec{}, err
		}
	}
	return process.Spec{
		Name:    Name,
		Path:    bin,
		Args:    []string{cfgPath},
		WorkDir: filepath.Dir(cfgPath),
		Env:     env.Expand(s.cfg.Env),
		Log:     s.cfg.Log,
	}, nil
}

// Start writes the configuration, launches the relay and waits for it to settle.
// The returned handle is also retained for Stop.
func (s *Supervisor) Start(ctx context.Context) (*process.Process, error) {
	if err := WriteConfig(s.cfg.ConfigPath, s.cfg.Port, s.cfg.StreamPath); err != nil {
		return nil, fmt.Errorf("write relay config: %w", err)
	}
	spec, err := s.Spec()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.proc != nil && s.proc.Alive() {
		s.mu.Unlock()
		return nil, fmt.Errorf("relay already running (pid %d)", s.proc.PID())
	}
	s.logger.Info("starting RTSP server", "command", spec.CommandLine())
	p, err := process.Start(spec)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.proc = p
	s.mu.Unlock()

	began := time.Now()
	metrics.IncStart(Name)
	if err := s.awaitReady(ctx, p); err != nil {
		tail := p.Stderr(20)
		s.logger.Error("relay failed to start", "error", err, "stderr", tail)
		s.recorder.Emit(history.EventExit, history.Record{Name: Name, PID: p.PID(), Status: "failed", Error: err.Error()})
		s.Stop()
		return nil, err
	}
	metrics.ObserveRelayReady(time.Since(began).Seconds())
	s.recorder.Emit(history.EventStart, history.Record{Name: Name, PID: p.PID(), Status: "running"})
	s.logger.Info("RTSP server ready", "pid", p.PID(), "port", s.cfg.Port)
	return p, nil
}

// awaitReady waits out the settle window. With the readiness probe enabled it
// returns as soon as the RTSP port accepts connections.
func (s *Supervisor) awaitReady(ctx context.Context, p *process.Process) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Settle)
	defer cancel()

	probe := make(chan error, 1)
	if s.cfg.ReadinessProbe {
		addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.cfg.Port))
		go func() { probe <- detector.WaitAlive(ctx, detector.TCPDetector{Addr: addr}, 100*time.Millisecond) }()
	}

	select {
	case <-p.Done():
		st := p.Snapshot()
		return fmt.Errorf("%w: %s", ErrExitedDuringStartup, st.Exit)
	case err := <-probe:
		if err == nil {
			return nil
		}
		// probe ran out with the settle window; fall through to liveness
		if p.Alive() {
			s.logger.Warn("relay port not bound within settle window", "port", s.cfg.Port)
			return nil
		}
		return fmt.Errorf("%w: %s", ErrExitedDuringStartup, p.Snapshot().Exit)
	case <-ctx.Done():
		if !p.Alive() {
			return fmt.Errorf("%w: %s", ErrExitedDuringStartup, p.Snapshot().Exit)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil
		}
		return ctx.Err()
	}
}

// Stop terminates the relay, waiting up to the stop timeout before killing it.
// Errors are logged at debug and never returned.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	p := s.proc
	s.proc = nil
	s.mu.Unlock()
	if p == nil {
		return
	}
	wasAlive := p.Alive()
	if err := p.Stop(s.cfg.StopTimeout); err != nil {
		s.logger.Debug("relay stop", "error", err)
	}
	if wasAlive {
		metrics.IncStop(Name)
		s.recorder.Emit(history.EventStop, history.Record{Name: Name, PID: p.PID(), Status: "stopped"})
	}
}

// Process returns the current handle, or nil.
func (s *Supervisor) Process() *process.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// URL is the RTSP endpoint clients read from.
func (s *Supervisor) URL() string {
	return fmt.Sprintf("rtsp://localhost:%d%s", s.cfg.Port, s.cfg.StreamPath)
}
