// Package monitor watches the encoder and restarts it when it exits.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/camrelay/internal/history"
	"github.com/loykin/camrelay/internal/metrics"
	"github.com/loykin/camrelay/internal/process"
)

// DefaultInterval is the liveness poll period.
const DefaultInterval = time.Second

// ErrRestartLimit is returned by Run once the restart policy is exhausted.
var ErrRestartLimit = errors.New("restart limit reached")

// Target is what the monitor supervises.
type Target interface {
	Process() *process.Process
	Restart(ctx context.Context) error
}

// RestartPolicy bounds automatic restarts. The zero value restarts forever
// without delay.
type RestartPolicy struct {
	MaxRestarts int           // 0 = unbounded
	Backoff     time.Duration // delay before the first restart of a failure streak, 0 = none
	MaxBackoff  time.Duration // cap for the doubling backoff, 0 = no cap
}

// delay returns the wait before restart number streak (1-based) of a failure streak.
func (p RestartPolicy) delay(streak int) time.Duration {
	if p.Backoff <= 0 || streak <= 0 {
		return 0
	}
	d := p.Backoff
	for i := 1; i < streak; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Monitor polls a Target and restarts it by index when its process is gone.
type Monitor struct {
	target   Target
	interval time.Duration
	policy   RestartPolicy
	logger   *slog.Logger
	recorder *history.Recorder
	name     string
}

// New returns a Monitor. interval <= 0 selects DefaultInterval; recorder may be nil.
func New(name string, target Target, interval time.Duration, policy RestartPolicy, logger *slog.Logger, recorder *history.Recorder) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		target:   target,
		interval: interval,
		policy:   policy,
		logger:   logger.With("component", "monitor", "process", name),
		recorder: recorder,
		name:     name,
	}
}

// Run polls until ctx is cancelled, returning nil, or until the restart policy
// is exhausted, returning ErrRestartLimit. It never restarts after ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()

	restarts := 0
	streak := 0 // consecutive polls that found the process dead
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		p := m.target.Process()
		if p != nil && p.Alive() {
			streak = 0
			continue
		}
		if p != nil && p.StopRequested() {
			// stopped on purpose; whoever stopped it swaps or clears the handle
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		m.reportExit(p)

		if m.policy.MaxRestarts > 0 && restarts >= m.policy.MaxRestarts {
			m.logger.Error("giving up on encoder", "restarts", restarts)
			return fmt.Errorf("%s: %w after %d restarts", m.name, ErrRestartLimit, restarts)
		}
		streak++
		if d := m.policy.delay(streak); d > 0 {
			m.logger.Info("waiting before restart", "backoff", d)
			if !sleepCtx(ctx, d) {
				return nil
			}
		}

		m.logger.Info("restarting FFmpeg")
		restarts++
		if err := m.target.Restart(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Error("restart failed", "error", err)
		}
	}
}

func (m *Monitor) reportExit(p *process.Process) {
	if p == nil {
		m.logger.Warn("FFmpeg process missing")
		return
	}
	st := p.Snapshot()
	m.logger.Error("FFmpeg process died", "pid", st.PID, "exit", st.Exit, "stderr", p.Stderr(0))
	metrics.IncUnexpectedExit(m.name)
	m.recorder.Emit(history.EventExit, history.Record{Name: m.name, PID: st.PID, Status: "exited", Error: st.Exit})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
