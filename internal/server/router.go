package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/camrelay/internal/manager"
	"github.com/loykin/camrelay/internal/metrics"
)

// Controller is the part of the manager the HTTP API needs.
type Controller interface {
	Status() manager.Status
	Running() bool
	RestartCapture(ctx context.Context) error
}

// Router provides embeddable HTTP handlers for the stream server.
// Endpoints:
//
//	GET  {basePath}/status           full status snapshot
//	GET  {basePath}/healthz          200 while running, 503 otherwise
//	POST {basePath}/capture/restart  restart the encoder by index
//	GET  {basePath}/metrics          Prometheus, only WithMetrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctrl     Controller
	basePath string
	metrics  bool
	tls      *tls.Config
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithMetrics mounts the Prometheus handler under {basePath}/metrics.
func WithMetrics() RouterOption { return func(r *Router) { r.metrics = true } }

// WithTLS makes NewServer serve HTTPS. A nil config is ignored.
func WithTLS(c *tls.Config) RouterOption { return func(r *Router) { r.tls = c } }

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status, /api/healthz.
func NewRouter(ctrl Controller, basePath string, opts ...RouterOption) *Router {
	r := &Router{ctrl: ctrl, basePath: normalizeBase(basePath)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Register(g.Group(r.basePath))
	return g
}

// Register adds the routes to an existing gin group.
func (r *Router) Register(group *gin.RouterGroup) {
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealth)
	group.POST("/capture/restart", r.handleRestart)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
}

// NewServer binds addr and serves the router on it in the background. Bind
// errors are returned; serve errors after that are dropped.
func NewServer(addr, basePath string, ctrl Controller, opts ...RouterOption) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	r := NewRouter(ctrl, basePath, opts...)
	if r.tls != nil {
		ln = tls.NewListener(ln, r.tls)
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		TLSConfig:         r.tls,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type healthResp struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctrl.Status())
}

func (r *Router) handleHealth(c *gin.Context) {
	st := r.ctrl.Status()
	if !r.ctrl.Running() {
		writeJSON(c, http.StatusServiceUnavailable, healthResp{Status: "unavailable", State: st.State})
		return
	}
	writeJSON(c, http.StatusOK, healthResp{Status: "ok", State: st.State})
}

func (r *Router) handleRestart(c *gin.Context) {
	if err := r.ctrl.RestartCapture(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
