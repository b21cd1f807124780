package detector

import (
	"context"
	"fmt"
	"time"
)

// Detector is a strategy that determines if a service is up.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the service is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// DefaultPollInterval is used by WaitAlive when interval is not positive.
const DefaultPollInterval = 100 * time.Millisecond

// TimeoutError is returned by WaitAlive when ctx ends before d reports alive.
type TimeoutError struct {
	Detector string
	Cause    error
	Last     error // last error returned by Alive, if any
}

func (e *TimeoutError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("%s not alive: %v (last: %v)", e.Detector, e.Cause, e.Last)
	}
	return fmt.Sprintf("%s not alive: %v", e.Detector, e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// WaitAlive polls d every interval until it reports alive or ctx ends.
func WaitAlive(ctx context.Context, d Detector, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ok, last := d.Alive()
	if ok {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return &TimeoutError{Detector: d.Describe(), Cause: ctx.Err(), Last: last}
		case <-t.C:
			ok, err := d.Alive()
			if ok {
				return nil
			}
			last = err
		}
	}
}
