// Package manager sequences the relay and the encoder, runs the health
// monitor, and tears both processes down in reverse order.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/camrelay/internal/capture"
	"github.com/loykin/camrelay/internal/history"
	"github.com/loykin/camrelay/internal/metrics"
	"github.com/loykin/camrelay/internal/monitor"
	"github.com/loykin/camrelay/internal/process"
	"github.com/loykin/camrelay/internal/relay"
)

// State is the lifecycle of the stream server.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

var stateNames = []string{"stopped", "starting", "running", "stopping"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

var (
	ErrAlreadyStarted = errors.New("stream server already started")
	ErrNotRunning     = errors.New("stream server not running")
)

// Provisioner makes sure the relay binary exists before it is launched.
type Provisioner interface {
	EnsureRelayBinary(ctx context.Context) (string, error)
}

// Preflight verifies the encoder is usable.
type Preflight interface {
	CheckEncoder(ctx context.Context) error
}

// Relay is the relay supervisor contract.
type Relay interface {
	Start(ctx context.Context) (*process.Process, error)
	Stop()
	Process() *process.Process
	URL() string
}

// Capture is the capture supervisor contract.
type Capture interface {
	Start(ctx context.Context) error
	Restart(ctx context.Context) error
	Stop()
	Process() *process.Process
	Status() capture.Status
}

// Options holds the optional collaborators of a Manager.
type Options struct {
	Provisioner     Provisioner // nil skips provisioning
	Preflight       Preflight   // nil skips the encoder check
	MonitorInterval time.Duration
	RestartPolicy   monitor.RestartPolicy
	Sampler         *metrics.ProcessMetricsCollector
	Logger          *slog.Logger
	Recorder        *history.Recorder
}

// Manager is the top-level controller.
type Manager struct {
	relay   Relay
	capture Capture
	opts    Options
	logger  *slog.Logger

	op sync.Mutex // serializes Start, Stop and RestartCapture

	mu        sync.Mutex
	state     State
	startedAt time.Time
	monCancel context.CancelFunc
	monDone   chan struct{}
	monErr    error
}

// New returns a stopped Manager.
func New(r Relay, c Capture, opts Options) *Manager {
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	m := &Manager{relay: r, capture: c, opts: opts, logger: l}
	metrics.SetCurrentState(Stopped.String(), stateNames)
	return m
}

// Start provisions, checks the encoder, starts the relay, then the encoder,
// then the health monitor. When the encoder cannot be started the relay is
// stopped again and the capture error is returned unchanged.
func (m *Manager) Start(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	if m.State() != Stopped {
		return ErrAlreadyStarted
	}
	m.transition(Starting)

	if p := m.opts.Provisioner; p != nil {
		if _, err := p.EnsureRelayBinary(ctx); err != nil {
			m.transition(Stopped)
			return err
		}
	}
	if pf := m.opts.Preflight; pf != nil {
		if err := pf.CheckEncoder(ctx); err != nil {
			m.transition(Stopped)
			return err
		}
	}
	if _, err := m.relay.Start(ctx); err != nil {
		m.transition(Stopped)
		return fmt.Errorf("start relay: %w", err)
	}
	if err := m.capture.Start(ctx); err != nil {
		m.logger.Error("capture did not start, stopping relay", "error", err)
		m.stopLocked()
		return err
	}

	monCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	mon := monitor.New(capture.Name, m.capture, m.opts.MonitorInterval, m.opts.RestartPolicy, m.logger, m.opts.Recorder)

	m.mu.Lock()
	m.monCancel = cancel
	m.monDone = done
	m.monErr = nil
	m.startedAt = time.Now()
	m.mu.Unlock()

	go func() {
		defer close(done)
		if err := mon.Run(monCtx); err != nil {
			m.logger.Error("health monitor gave up", "error", err)
			m.mu.Lock()
			m.monErr = err
			m.mu.Unlock()
		}
	}()
	if s := m.opts.Sampler; s != nil {
		s.Start(monCtx, m.pids)
	}

	m.transition(Running)
	m.logger.Info("stream server running", "url", m.relay.URL())
	return nil
}

// Stop cancels the monitor, waits for it, then stops the encoder and the
// relay. It waits for an in-flight Start; cancel that Start's context to
// abort it. Calling Stop on a stopped Manager is a no-op.
func (m *Manager) Stop() {
	m.op.Lock()
	defer m.op.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	m.mu.Lock()
	if m.state == Stopped {
		m.mu.Unlock()
		return
	}
	cancel, done := m.monCancel, m.monDone
	m.monCancel = nil
	m.mu.Unlock()

	m.transition(Stopping)
	if cancel != nil {
		cancel()
		<-done
	}
	m.capture.Stop()
	m.relay.Stop()
	m.transition(Stopped)
	m.logger.Info("stream server stopped")
}

// RestartCapture restarts the encoder by index on operator request.
func (m *Manager) RestartCapture(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()
	if m.State() != Running {
		return ErrNotRunning
	}
	return m.capture.Restart(ctx)
}

// Done is closed when the health monitor returns, either after Stop or
// because the restart policy gave up. It is nil before the first Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monDone
}

// Err reports why the health monitor gave up, if it did.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monErr
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Running reports whether both processes were started and Stop has not been called.
func (m *Manager) Running() bool { return m.State() == Running }

// URL is the published RTSP endpoint.
func (m *Manager) URL() string { return m.relay.URL() }

// Status is the snapshot served by the status API.
type Status struct {
	State     string                           `json:"state"`
	Running   bool                             `json:"running"`
	URL       string                           `json:"url"`
	StartedAt time.Time                        `json:"started_at,omitzero"`
	Relay     *process.Status                  `json:"relay,omitempty"`
	Capture   capture.Status                   `json:"capture"`
	Monitor   string                           `json:"monitor_error,omitempty"`
	Resources map[string]metrics.ProcessSample `json:"resources,omitempty"`
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{State: m.state.String(), Running: m.state == Running, URL: m.relay.URL()}
	if m.state != Stopped {
		st.StartedAt = m.startedAt
	}
	if m.monErr != nil {
		st.Monitor = m.monErr.Error()
	}
	m.mu.Unlock()

	if p := m.relay.Process(); p != nil {
		snap := p.Snapshot()
		st.Relay = &snap
	}
	st.Capture = m.capture.Status()
	if s := m.opts.Sampler; s != nil && s.Enabled() {
		st.Resources = s.Snapshot()
	}
	return st
}

func (m *Manager) pids() map[string]int32 {
	out := make(map[string]int32, 2)
	if p := m.relay.Process(); p != nil && p.Alive() {
		out[relay.Name] = int32(p.PID())
	}
	if p := m.capture.Process(); p != nil && p.Alive() {
		out[capture.Name] = int32(p.PID())
	}
	return out
}

func (m *Manager) transition(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()
	if from == to {
		return
	}
	metrics.RecordStateTransition(from.String(), to.String())
	metrics.SetCurrentState(to.String(), stateNames)
}
