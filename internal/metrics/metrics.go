package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "camrelay"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process launches.",
		}, []string{"name"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of automatic or operator restarts.",
		}, []string{"name"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"name"},
	)
	processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "unexpected_exits_total",
			Help:      "Number of exits not requested by camrelay.",
		}, []string{"name"},
	)
	captureFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "fallbacks_total",
			Help:      "Number of times the by-name device selection failed and by-index was tried.",
		},
	)
	captureStartFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "start_failures_total",
			Help:      "Number of capture starts where both strategies exited during the probe window.",
		},
	)
	relayReadyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "ready_duration_seconds",
			Help:      "Time between relay launch and readiness.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	provisionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provision",
			Name:      "attempts_total",
			Help:      "Relay binary provisioning attempts by method and result.",
		}, []string{"method", "result"},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "state_transitions_total",
			Help:      "Number of transitions between server states.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "current_state",
			Help:      "Current server state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processStarts, processRestarts, processStops, processExits,
		captureFallbacks, captureStartFailures, relayReadyDuration,
		provisionAttempts, stateTransitions, currentState,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with the same registry: keep existing
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		processStarts.WithLabelValues(name).Inc()
	}
}
func IncRestart(name string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(name).Inc()
	}
}
func IncStop(name string) {
	if regOK.Load() {
		processStops.WithLabelValues(name).Inc()
	}
}
func IncUnexpectedExit(name string) {
	if regOK.Load() {
		processExits.WithLabelValues(name).Inc()
	}
}
func IncFallback() {
	if regOK.Load() {
		captureFallbacks.Inc()
	}
}
func IncCaptureStartFailure() {
	if regOK.Load() {
		captureStartFailures.Inc()
	}
}
func ObserveRelayReady(seconds float64) {
	if regOK.Load() {
		relayReadyDuration.Observe(seconds)
	}
}

// RecordProvision counts one provisioning attempt; result is "ok" or "error".
func RecordProvision(method, result string) {
	if regOK.Load() {
		provisionAttempts.WithLabelValues(method, result).Inc()
	}
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

// SetCurrentState marks state as the active one among all.
func SetCurrentState(state string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		currentState.WithLabelValues(s).Set(v)
	}
}
