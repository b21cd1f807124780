package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// ServeFlags Flag structs to decouple cobra from logic for testing.
type ServeFlags struct {
	StopOnEnter   bool
	Listen        string // status API address, overrides server.listen
	MetricsListen string // overrides metrics.listen and enables metrics
}

// APIFlags point a command at a running serve's status API.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	JSON       bool
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "status API base URL (default http://127.0.0.1:8080/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "status API request timeout")
}

// flagBindings maps persistent flag names to config keys. Bound flags only
// win over file and environment values when set on the command line.
var flagBindings = map[string]string{
	"device-name":  "stream.device_name",
	"device-index": "stream.device_index",
	"port":         "stream.port",
	"path":         "stream.path",
	"encoder":      "encoder.path",
	"capture-api":  "encoder.api",
	"relay-binary": "relay.binary",
	"log-level":    "log.slog.level",
}

func addConfigFlags(root *cobra.Command, flags *GlobalFlags, v *viper.Viper) {
	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to TOML or YAML config file (optional)")
	pf.String("device-name", "", "capture device name")
	pf.Int("device-index", 0, "capture device index used by the fallback and restarts")
	pf.Int("port", 0, "RTSP port of the relay")
	pf.String("path", "", "publish path, e.g. /webcam")
	pf.String("encoder", "", "ffmpeg binary")
	pf.String("capture-api", "", "capture API: avfoundation, v4l2 or dshow")
	pf.String("relay-binary", "", "mediamtx binary path")
	pf.String("log-level", "", "debug, info, warn or error")
	for name, key := range flagBindings {
		_ = v.BindPFlag(key, pf.Lookup(name))
	}
}
