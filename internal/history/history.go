package history

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart    EventType = "start"
	EventExit     EventType = "exit"
	EventFallback EventType = "fallback"
	EventRestart  EventType = "restart"
	EventStop     EventType = "stop"
)

// Record is the process state attached to an event.
type Record struct {
	Name     string `json:"name"`
	PID      int    `json:"pid"`
	Strategy string `json:"strategy,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// DefaultSendTimeout bounds a single Send call made by a Recorder.
const DefaultSendTimeout = 2 * time.Second

const (
	// DefaultQueueSize is how many events may wait for the sinks before
	// Emit starts dropping them.
	DefaultQueueSize = 256
	// DefaultDrainTimeout bounds how long Close waits for queued events.
	DefaultDrainTimeout = 3 * time.Second
)

// Recorder fans events out to sinks from one background goroutine; Emit
// never blocks. A nil *Recorder drops events.
type Recorder struct {
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration
	drain   time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
	stop   context.CancelFunc
	ctx    context.Context
}

// NewRecorder returns a Recorder sending to sinks; failures are logged at debug.
func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		sinks:   append([]Sink(nil), sinks...),
		logger:  logger,
		timeout: DefaultSendTimeout,
		drain:   DefaultDrainTimeout,
		done:    make(chan struct{}),
	}
	r.ctx, r.stop = context.WithCancel(context.Background())
	if len(r.sinks) == 0 {
		close(r.done)
		return r
	}
	r.queue = make(chan Event, DefaultQueueSize)
	go r.run()
	return r
}

// Emit queues an event of type t for rec. It drops the event when the queue
// is full or the Recorder is closed.
func (r *Recorder) Emit(t EventType, rec Record) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	evt := Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- evt:
	default:
		r.logger.Debug("history queue full, event dropped", "type", t, "name", rec.Name)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for evt := range r.queue {
		if r.ctx.Err() != nil {
			continue
		}
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
			if err := s.Send(ctx, evt); err != nil {
				r.logger.Debug("history sink send failed", "type", evt.Type, "name", evt.Record.Name, "error", err)
			}
			cancel()
		}
	}
}

// Close stops accepting events, waits up to DefaultDrainTimeout for queued
// ones, then closes every sink that implements io.Closer.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.queue != nil {
		close(r.queue)
	}
	r.mu.Unlock()

	t := time.NewTimer(r.drain)
	defer t.Stop()
	select {
	case <-r.done:
	case <-t.C:
		r.logger.Debug("history drain timed out, pending events dropped")
		r.stop()
		<-r.done
	}
	r.stop()

	var first error
	for _, s := range r.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
