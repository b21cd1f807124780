// Package client talks to the camrelay status API.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client provides HTTP client functionality to communicate with a running camrelay
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client, for APIs behind a TLS proxy.
type TLSClientConfig struct {
	Enabled    bool
	CACert     string // CA certificate file path
	ClientCert string
	ClientKey  string
	ServerName string
	SkipVerify bool
}

const DefaultBaseURL = "http://127.0.0.1:8080/api"

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// ErrNotRunning is matched when the server refuses an operation because the stream is stopped.
var ErrNotRunning = errors.New("stream server not running")

func (e *APIError) Is(target error) bool {
	return target == ErrNotRunning && e.StatusCode == http.StatusConflict
}

// New creates a new camrelay API client
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			return nil, fmt.Errorf("TLS setup: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}, nil
}

// IsReachable checks if the status API answers at all
func (c *Client) IsReachable(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodGet, "/healthz")
	if err != nil {
		c.logger.Debug("camrelay unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Status fetches the full status snapshot.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	resp, err := c.do(ctx, http.MethodGet, "/status")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.checkResponse(resp); err != nil {
		return nil, err
	}
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

// Health reports whether the stream is up. A 503 is not an error.
func (c *Client) Health(ctx context.Context) (Health, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/healthz")
	if err != nil {
		return Health{}, false, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return Health{}, false, c.checkResponse(resp)
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, false, fmt.Errorf("decode health: %w", err)
	}
	return h, resp.StatusCode == http.StatusOK, nil
}

// RestartCapture asks the server to restart the encoder by index.
func (c *Client) RestartCapture(ctx context.Context) error {
	c.logger.Debug("requesting encoder restart")
	resp, err := c.do(ctx, http.MethodPost, "/capture/restart")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return c.checkResponse(resp)
}

func (c *Client) do(ctx context.Context, method, path string) (*http.Response, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

// checkResponse turns a non-2xx response into an *APIError
func (c *Client) checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var errorResp ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&errorResp)
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: errorResp.Error}
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 -- explicit operator opt-in
		return tlsConfig, nil
	}
	if config.TLS == nil {
		return tlsConfig, nil
	}
	if config.TLS.SkipVerify {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 -- explicit operator opt-in
	}
	if config.TLS.ServerName != "" {
		tlsConfig.ServerName = config.TLS.ServerName
	}
	if config.TLS.CACert != "" {
		if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
	}
	if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = caCertPool
	return nil
}
