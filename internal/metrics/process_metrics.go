package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessSample is one CPU/memory reading for a supervised process.
type ProcessSample struct {
	Name       string    `json:"name"`
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProcessMetricsConfig holds configuration for process sampling.
type ProcessMetricsConfig struct {
	Enabled  bool          `mapstructure:"process_metrics"`
	Interval time.Duration `mapstructure:"process_interval"`
}

// PIDSource returns the current PID of each supervised process by name; 0 means not running.
type PIDSource func() map[string]int32

// ProcessMetricsCollector periodically samples the relay and encoder with gopsutil.
type ProcessMetricsCollector struct {
	enabled  bool
	interval time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	latest map[string]ProcessSample
	procs  map[int32]*process.Process // cached so CPUPercent has a previous reading

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
}

// NewProcessMetricsCollector creates a collector; the interval defaults to 5s.
func NewProcessMetricsCollector(cfg ProcessMetricsConfig, logger *slog.Logger) *ProcessMetricsCollector {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessMetricsCollector{
		enabled:  cfg.Enabled,
		interval: interval,
		logger:   logger,
		latest:   make(map[string]ProcessSample),
		procs:    make(map[int32]*process.Process),
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "process", Name: "cpu_percent",
			Help: "CPU usage percentage of supervised processes.",
		}, []string{"name"}),
		memoryMB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "process", Name: "memory_mb",
			Help: "Resident memory in MB of supervised processes.",
		}, []string{"name"}),
		numThreads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "process", Name: "num_threads",
			Help: "Number of threads of supervised processes.",
		}, []string{"name"}),
	}
}

// Enabled reports whether sampling is configured.
func (c *ProcessMetricsCollector) Enabled() bool { return c.enabled }

// RegisterMetrics registers the sampling gauges with r.
func (c *ProcessMetricsCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}
	for _, col := range []prometheus.Collector{c.cpuPercent, c.memoryMB, c.numThreads} {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic sampling of the PIDs returned by src.
func (c *ProcessMetricsCollector) Start(ctx context.Context, src PIDSource) {
	if !c.enabled {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect(src())
			}
		}
	}()
}

// Stop ends sampling and waits for the sampling goroutine.
func (c *ProcessMetricsCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect takes one sample of each named PID and drops series for processes that are gone.
func (c *ProcessMetricsCollector) Collect(pids map[string]int32) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[int32]bool, len(pids))
	for name, pid := range pids {
		if pid <= 0 {
			c.forgetLocked(name)
			continue
		}
		seen[pid] = true
		s, err := c.sampleLocked(name, pid, now)
		if err != nil {
			c.logger.Debug("process sample failed", "name", name, "pid", pid, "error", err)
			c.forgetLocked(name)
			continue
		}
		c.latest[name] = s
		c.cpuPercent.WithLabelValues(name).Set(s.CPUPercent)
		c.memoryMB.WithLabelValues(name).Set(s.MemoryMB)
		c.numThreads.WithLabelValues(name).Set(float64(s.NumThreads))
	}
	for pid := range c.procs {
		if !seen[pid] {
			delete(c.procs, pid)
		}
	}
	for name := range c.latest {
		if _, ok := pids[name]; !ok {
			c.forgetLocked(name)
		}
	}
}

func (c *ProcessMetricsCollector) forgetLocked(name string) {
	delete(c.latest, name)
	c.cpuPercent.DeleteLabelValues(name)
	c.memoryMB.DeleteLabelValues(name)
	c.numThreads.DeleteLabelValues(name)
}

func (c *ProcessMetricsCollector) sampleLocked(name string, pid int32, now time.Time) (ProcessSample, error) {
	proc, ok := c.procs[pid]
	if !ok {
		var err error
		proc, err = process.NewProcess(pid)
		if err != nil {
			return ProcessSample{}, fmt.Errorf("open process: %w", err)
		}
		c.procs[pid] = proc
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return ProcessSample{}, fmt.Errorf("memory info: %w", err)
	}
	cpu, err := proc.Percent(0)
	if err != nil {
		cpu = 0
	}
	threads, err := proc.NumThreads()
	if err != nil {
		threads = 0
	}
	return ProcessSample{
		Name:       name,
		PID:        pid,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		NumThreads: threads,
		Timestamp:  now,
	}, nil
}

// Latest returns the most recent sample for name.
func (c *ProcessMetricsCollector) Latest(name string) (ProcessSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.latest[name]
	return s, ok
}

// Snapshot returns the most recent sample of every process.
func (c *ProcessMetricsCollector) Snapshot() map[string]ProcessSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]ProcessSample, len(c.latest))
	for k, v := range c.latest {
		out[k] = v
	}
	return out
}
