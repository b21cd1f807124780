package process

import "time"

// Status is a point-in-time snapshot of a handle.
type Status struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitzero"`
	ExitErr   error     `json:"-"`
	Exit      string    `json:"exit,omitempty"`
	Command   string    `json:"command"`
}
