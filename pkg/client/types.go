package client

import "time"

// ProcessStatus is the state of the relay or encoder process.
type ProcessStatus struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	StoppedAt time.Time `json:"stopped_at,omitzero"`
	Exit      string    `json:"exit,omitempty"`
	Command   string    `json:"command,omitempty"`
}

// CaptureStatus describes the encoder supervisor.
type CaptureStatus struct {
	State    string         `json:"state"`
	Strategy string         `json:"strategy,omitempty"`
	Restarts int            `json:"restarts"`
	Process  *ProcessStatus `json:"process,omitempty"`
}

// ResourceSample is one CPU/memory reading of a supervised process.
type ResourceSample struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
	NumThreads int32   `json:"num_threads"`
}

// Status is the body of GET {base}/status.
type Status struct {
	State     string                    `json:"state"`
	Running   bool                      `json:"running"`
	URL       string                    `json:"url"`
	StartedAt time.Time                 `json:"started_at,omitzero"`
	Relay     *ProcessStatus            `json:"relay,omitempty"`
	Capture   CaptureStatus             `json:"capture"`
	Monitor   string                    `json:"monitor_error,omitempty"`
	Resources map[string]ResourceSample `json:"resources,omitempty"`
}

// Health is the body of GET {base}/healthz.
type Health struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
