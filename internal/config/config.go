// Package config loads camrelay settings from a TOML or YAML file and
// CAMRELAY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/camrelay/internal/capture"
	"github.com/loykin/camrelay/internal/logger"
	"github.com/loykin/camrelay/internal/metrics"
	"github.com/loykin/camrelay/internal/monitor"
	"github.com/loykin/camrelay/internal/preflight"
	"github.com/loykin/camrelay/internal/provision"
	"github.com/loykin/camrelay/internal/relay"
	tlsconf "github.com/loykin/camrelay/internal/tls"
)

// EnvPrefix prefixes environment overrides, e.g. CAMRELAY_STREAM_PORT.
const EnvPrefix = "CAMRELAY"

// Config is the full camrelay configuration.
type Config struct {
	Stream  Stream        `mapstructure:"stream"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Encoder EncoderConfig `mapstructure:"encoder"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Log     logger.Config `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Server  ServerConfig  `mapstructure:"server"`
	History HistoryConfig `mapstructure:"history"`
}

// Stream is the device and endpoint being served. It is never mutated after Load.
type Stream struct {
	DeviceName  string `mapstructure:"device_name"`
	DeviceIndex int    `mapstructure:"device_index"`
	Port        int    `mapstructure:"port"`
	Path        string `mapstructure:"path"`
}

type RelayConfig struct {
	Binary          string        `mapstructure:"binary"`
	Provision       bool          `mapstructure:"provision"`
	Version         string        `mapstructure:"version"`
	DownloadBase    string        `mapstructure:"download_base"`
	Arch            string        `mapstructure:"arch"`
	UserAgent       string        `mapstructure:"user_agent"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	ConfigPath      string        `mapstructure:"config_path"`
	Settle          time.Duration `mapstructure:"settle"`
	ReadinessProbe  bool          `mapstructure:"readiness_probe"`
	StopTimeout     time.Duration `mapstructure:"stop_timeout"`
	Env             []string      `mapstructure:"env"`
}

type EncoderConfig struct {
	Path        string        `mapstructure:"path"`
	API         string        `mapstructure:"api"`
	ProbeDelay  time.Duration `mapstructure:"probe_delay"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
	ListDevices bool          `mapstructure:"list_devices"`
	Env         []string      `mapstructure:"env"`
	FrameRate   int           `mapstructure:"framerate"`
	VideoSize   string        `mapstructure:"video_size"`
	Codec       string        `mapstructure:"codec"`
	Preset      string        `mapstructure:"preset"`
	Tune        string        `mapstructure:"tune"`
	PixFmt      string        `mapstructure:"pix_fmt"`
	GOP         int           `mapstructure:"gop"`
}

// MonitorConfig maps onto monitor.RestartPolicy; zero values restart forever without delay.
type MonitorConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxRestarts int           `mapstructure:"max_restarts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"` // dedicated listener; empty mounts /metrics on the status server

	metrics.ProcessMetricsConfig `mapstructure:",squash"`
}

type ServerConfig struct {
	Listen string         `mapstructure:"listen"` // empty disables the status API
	Base   string         `mapstructure:"base"`
	TLS    tlsconf.Config `mapstructure:"tls"`
}

type HistoryConfig struct {
	DSNs []string `mapstructure:"dsns"`
}

func defaultRelayBinary() string {
	if runtime.GOOS == "windows" {
		return "./mediamtx.exe"
	}
	return "./mediamtx"
}

// NewViper returns a viper instance carrying every default and the
// CAMRELAY_ environment binding. Callers may bind flags before LoadFrom.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	enc := capture.DefaultEncoding()
	defaults := map[string]any{
		"stream.device_name":  "FaceTime HD Camera",
		"stream.device_index": 0,
		"stream.port":         8554,
		"stream.path":         "/webcam",

		"relay.binary":           defaultRelayBinary(),
		"relay.provision":        true,
		"relay.version":          provision.DefaultVersion,
		"relay.download_base":    provision.DefaultBaseURL,
		"relay.arch":             "",
		"relay.user_agent":       provision.DefaultUserAgent,
		"relay.download_timeout": provision.DefaultTimeout,
		"relay.config_path":      relay.DefaultConfigPath,
		"relay.settle":           relay.DefaultSettle,
		"relay.readiness_probe":  false,
		"relay.stop_timeout":     relay.DefaultStopTimeout,
		"relay.env":              []string{},

		"encoder.path":         "ffmpeg",
		"encoder.api":          string(preflight.DefaultCaptureAPI()),
		"encoder.probe_delay":  capture.DefaultProbeDelay,
		"encoder.stop_timeout": capture.DefaultStopTimeout,
		"encoder.list_devices": true,
		"encoder.env":          []string{},
		"encoder.framerate":    enc.FrameRate,
		"encoder.video_size":   enc.VideoSize,
		"encoder.codec":        enc.Codec,
		"encoder.preset":       enc.Preset,
		"encoder.tune":         enc.Tune,
		"encoder.pix_fmt":      enc.PixFmt,
		"encoder.gop":          enc.GOP,

		"monitor.interval":     monitor.DefaultInterval,
		"monitor.max_restarts": 0,
		"monitor.backoff":      time.Duration(0),
		"monitor.max_backoff":  time.Duration(0),

		"log.slog.level":        string(logger.LevelInfo),
		"log.slog.format":       string(logger.FormatText),
		"log.slog.color":        true,
		"log.slog.timestamps":   true,
		"log.slog.source":       false,
		"log.file.dir":          "",
		"log.file.stdout":       "",
		"log.file.stderr":       "",
		"log.file.max_size_mb":  logger.DefaultMaxSizeMB,
		"log.file.max_backups":  logger.DefaultMaxBackups,
		"log.file.max_age_days": logger.DefaultMaxAgeDays,
		"log.file.compress":     false,

		"metrics.enabled":          false,
		"metrics.listen":           "",
		"metrics.process_metrics":  false,
		"metrics.process_interval": 5 * time.Second,

		"server.listen": "",
		"server.base":   "/api",

		"server.tls.enabled":       false,
		"server.tls.cert_file":     "",
		"server.tls.key_file":      "",
		"server.tls.dir":           "",
		"server.tls.auto_generate": false,
		"server.tls.min_version":   "",
		"server.tls.max_version":   "",

		"history.dsns": []string{},
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Load reads path (optional) over the defaults and environment, then validates.
func Load(path string) (*Config, error) {
	return LoadFrom(NewViper(), path)
}

// LoadFrom is Load on a caller-prepared viper instance.
func LoadFrom(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the configuration used when no file or environment is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return &c
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Stream.Port <= 0 || c.Stream.Port > 65535 {
		errs = append(errs, fmt.Errorf("stream.port %d out of range", c.Stream.Port))
	}
	if !strings.HasPrefix(c.Stream.Path, "/") || relay.PublishName(c.Stream.Path) == "" {
		errs = append(errs, fmt.Errorf("stream.path %q must start with / and name a path", c.Stream.Path))
	}
	if c.Stream.DeviceName == "" {
		errs = append(errs, errors.New("stream.device_name is required"))
	}
	if c.Stream.DeviceIndex < 0 {
		errs = append(errs, fmt.Errorf("stream.device_index %d is negative", c.Stream.DeviceIndex))
	}
	if c.Relay.Binary == "" {
		errs = append(errs, errors.New("relay.binary is required"))
	}
	if c.Encoder.Path == "" {
		errs = append(errs, errors.New("encoder.path is required"))
	}
	if _, err := preflight.ParseCaptureAPI(c.Encoder.API); err != nil {
		errs = append(errs, fmt.Errorf("encoder.api: %w", err))
	}
	for k, d := range map[string]time.Duration{
		"relay.settle":        c.Relay.Settle,
		"relay.stop_timeout":  c.Relay.StopTimeout,
		"encoder.probe_delay": c.Encoder.ProbeDelay,
		"monitor.backoff":     c.Monitor.Backoff,
		"monitor.max_backoff": c.Monitor.MaxBackoff,
		"monitor.interval":    c.Monitor.Interval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", k))
		}
	}
	if c.Monitor.MaxRestarts < 0 {
		errs = append(errs, errors.New("monitor.max_restarts must not be negative"))
	}
	switch c.Log.Slog.Format {
	case logger.FormatText, logger.FormatJSON, "":
	default:
		errs = append(errs, fmt.Errorf("log.slog.format %q (want text or json)", c.Log.Slog.Format))
	}
	if err := c.Server.TLS.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RelayConfig derives the relay supervisor settings.
func (c *Config) RelayConfig() relay.Config {
	return relay.Config{
		Binary:         c.Relay.Binary,
		ConfigPath:     c.Relay.ConfigPath,
		Port:           c.Stream.Port,
		StreamPath:     c.Stream.Path,
		Settle:         c.Relay.Settle,
		ReadinessProbe: c.Relay.ReadinessProbe,
		StopTimeout:    c.Relay.StopTimeout,
		Env:            c.Relay.Env,
		Log:            c.Log.File,
	}
}

// CaptureConfig derives the capture supervisor settings.
func (c *Config) CaptureConfig() capture.Config {
	api, _ := preflight.ParseCaptureAPI(c.Encoder.API)
	return capture.Config{
		Encoder:     c.Encoder.Path,
		API:         api,
		DeviceName:  c.Stream.DeviceName,
		DeviceIndex: c.Stream.DeviceIndex,
		Port:        c.Stream.Port,
		StreamPath:  c.Stream.Path,
		Encoding: capture.Encoding{
			FrameRate: c.Encoder.FrameRate,
			VideoSize: c.Encoder.VideoSize,
			Codec:     c.Encoder.Codec,
			Preset:    c.Encoder.Preset,
			Tune:      c.Encoder.Tune,
			PixFmt:    c.Encoder.PixFmt,
			GOP:       c.Encoder.GOP,
		},
		ProbeDelay:  c.Encoder.ProbeDelay,
		StopTimeout: c.Encoder.StopTimeout,
		Env:         c.Encoder.Env,
		Log:         c.Log.File,
	}
}

// ProvisionConfig derives the relay download settings.
func (c *Config) ProvisionConfig() provision.Config {
	return provision.Config{
		BinaryPath: c.Relay.Binary,
		Version:    c.Relay.Version,
		BaseURL:    c.Relay.DownloadBase,
		Arch:       c.Relay.Arch,
		UserAgent:  c.Relay.UserAgent,
		Timeout:    c.Relay.DownloadTimeout,
	}
}

// Checker derives the encoder preflight checker.
func (c *Config) Checker() preflight.Checker {
	api, _ := preflight.ParseCaptureAPI(c.Encoder.API)
	return preflight.Checker{Encoder: c.Encoder.Path, API: api}
}

// RestartPolicy derives the health monitor policy.
func (c *Config) RestartPolicy() monitor.RestartPolicy {
	return monitor.RestartPolicy{
		MaxRestarts: c.Monitor.MaxRestarts,
		Backoff:     c.Monitor.Backoff,
		MaxBackoff:  c.Monitor.MaxBackoff,
	}
}
