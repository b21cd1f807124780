// Package camrelay publishes a local webcam as an RTSP stream by supervising
// a mediamtx relay and an ffmpeg encoder.
package camrelay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/camrelay/internal/capture"
	"github.com/loykin/camrelay/internal/config"
	"github.com/loykin/camrelay/internal/history"
	"github.com/loykin/camrelay/internal/history/factory"
	"github.com/loykin/camrelay/internal/manager"
	"github.com/loykin/camrelay/internal/metrics"
	"github.com/loykin/camrelay/internal/monitor"
	"github.com/loykin/camrelay/internal/preflight"
	"github.com/loykin/camrelay/internal/provision"
	"github.com/loykin/camrelay/internal/relay"
	iapi "github.com/loykin/camrelay/internal/server"
	tlsconf "github.com/loykin/camrelay/internal/tls"
)

// Re-export core types for external consumers.

type Config = config.Config

type Status = manager.Status

type State = manager.State

type HistorySink = history.Sink

type HistoryEvent = history.Event

// Sentinel errors callers can match with errors.Is.
var (
	ErrProvision      = provision.ErrProvision
	ErrEncoderMissing = preflight.ErrEncoderMissing
	ErrCaptureStart   = capture.ErrCaptureStart
	ErrRestartLimit   = monitor.ErrRestartLimit
)

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

func DefaultConfig() *Config { return config.Default() }

// RenderRelayConfig returns the mediamtx YAML for port and stream path.
func RenderRelayConfig(port int, streamPath string) ([]byte, error) {
	return relay.Render(port, streamPath)
}

type options struct {
	logger *slog.Logger
	sinks  []history.Sink
}

// Option customizes a Server.
type Option func(*options)

// WithLogger replaces the logger built from Config.Log.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithHistorySinks adds sinks next to the ones named by Config.History.DSNs.
func WithHistorySinks(sinks ...HistorySink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// Server is the embeddable stream server.
type Server struct {
	cfg      *Config
	logger   *slog.Logger
	recorder *history.Recorder
	sampler  *metrics.ProcessMetricsCollector
	prov     *provision.Provisioner
	checker  preflight.Checker
	mgr      *manager.Manager
}

// New wires a Server from cfg. It opens every configured history sink.
func New(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = cfg.Log.NewSlogger()
	}

	sinks := append([]history.Sink(nil), o.sinks...)
	for _, dsn := range cfg.History.DSNs {
		sink, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			_ = history.NewRecorder(o.logger, sinks...).Close()
			return nil, fmt.Errorf("history sink %q: %w", dsn, err)
		}
		sinks = append(sinks, sink)
	}
	rec := history.NewRecorder(o.logger, sinks...)

	s := &Server{
		cfg:      cfg,
		logger:   o.logger,
		recorder: rec,
		sampler:  metrics.NewProcessMetricsCollector(cfg.Metrics.ProcessMetricsConfig, o.logger),
		prov:     provision.New(cfg.ProvisionConfig(), provision.WithLogger(o.logger)),
		checker:  cfg.Checker(),
	}
	mopts := manager.Options{
		Preflight:       s.checker,
		MonitorInterval: cfg.Monitor.Interval,
		RestartPolicy:   cfg.RestartPolicy(),
		Sampler:         s.sampler,
		Logger:          o.logger,
		Recorder:        rec,
	}
	if cfg.Relay.Provision {
		mopts.Provisioner = s.prov
	}
	s.mgr = manager.New(
		relay.New(cfg.RelayConfig(), o.logger, rec),
		capture.New(cfg.CaptureConfig(), o.logger, rec),
		mopts,
	)
	return s, nil
}

// Config returns the configuration the Server was built with.
func (s *Server) Config() *Config { return s.cfg }

// Logger returns the application logger.
func (s *Server) Logger() *slog.Logger { return s.logger }

// Start runs provisioning (if enabled), the encoder check, the relay, the
// encoder and the health monitor, in that order.
func (s *Server) Start(ctx context.Context) error { return s.mgr.Start(ctx) }

// Stop stops the monitor, then the encoder, then the relay. Safe to call repeatedly.
func (s *Server) Stop() { s.mgr.Stop() }

// Close stops the server and releases sinks and the sampler.
func (s *Server) Close() error {
	s.mgr.Stop()
	s.sampler.Stop()
	return s.recorder.Close()
}

func (s *Server) Running() bool { return s.mgr.Running() }

func (s *Server) State() State { return s.mgr.State() }

func (s *Server) Status() Status { return s.mgr.Status() }

// URL is the RTSP endpoint clients read from.
func (s *Server) URL() string { return s.mgr.URL() }

// RestartCapture restarts the encoder by index; it fails unless running.
func (s *Server) RestartCapture(ctx context.Context) error {
	return s.mgr.RestartCapture(ctx)
}

// Done is closed when the health monitor stops.
func (s *Server) Done() <-chan struct{} { return s.mgr.Done() }

// Err is non-nil when the health monitor gave up; it matches ErrRestartLimit.
func (s *Server) Err() error { return s.mgr.Err() }

// Fetch provisions the relay binary regardless of Config.Relay.Provision.
func (s *Server) Fetch(ctx context.Context) (string, error) {
	return s.prov.EnsureRelayBinary(ctx)
}

// ListDevices returns the encoder's device listing.
func (s *Server) ListDevices(ctx context.Context) (string, error) {
	return s.checker.ListDevices(ctx)
}

// Handler returns the status API mounted under basePath.
func (s *Server) Handler(basePath string, withMetrics bool) http.Handler {
	var opts []iapi.RouterOption
	if withMetrics {
		opts = append(opts, iapi.WithMetrics())
	}
	return iapi.NewRouter(s, basePath, opts...).Handler()
}

// NewHTTPServer starts the status API on addr in the background, over HTTPS
// when server.tls is enabled.
func NewHTTPServer(addr, basePath string, s *Server, withMetrics bool) (*http.Server, error) {
	tc, err := tlsconf.Setup(s.cfg.Server.TLS)
	if err != nil {
		return nil, fmt.Errorf("status API TLS: %w", err)
	}
	opts := []iapi.RouterOption{iapi.WithTLS(tc)}
	if withMetrics {
		opts = append(opts, iapi.WithMetrics())
	}
	return iapi.NewServer(addr, basePath, s, opts...)
}

// RegisterMetrics registers camrelay collectors, including the process
// sampler when enabled.
func (s *Server) RegisterMetrics(r prometheus.Registerer) error {
	if err := metrics.Register(r); err != nil {
		return err
	}
	return s.sampler.RegisterMetrics(r)
}

// ServeMetrics starts a dedicated /metrics listener on addr in the background.
func ServeMetrics(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	return srv, nil
}
