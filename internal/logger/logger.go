package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for supervised process output.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Level is the textual slog level used in configuration files.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the slog handler.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig configures the application logger.
type SlogConfig struct {
	Level      Level  `mapstructure:"level"`
	Format     Format `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	TimeStamps bool   `mapstructure:"timestamps"`
	Source     bool   `mapstructure:"source"`
}

// FileConfig describes where the relay and encoder write their stdout/stderr.
// If StdoutPath/StderrPath are empty and Dir is set, files are
// Dir/<name>.stdout.log and Dir/<name>.stderr.log.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string `mapstructure:"dir"`
	StdoutPath string `mapstructure:"stdout"`
	StderrPath string `mapstructure:"stderr"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config unifies application logging and supervised process output logging.
type Config struct {
	Slog SlogConfig `mapstructure:"slog"`
	File FileConfig `mapstructure:"file"`
}

// DefaultConfig returns colored text logging at info level without process log files.
func DefaultConfig() Config {
	return Config{
		Slog: SlogConfig{
			Level:      LevelInfo,
			Format:     FormatText,
			Color:      true,
			TimeStamps: true,
		},
	}
}

// SlogLevel maps the configured level to slog.Level, defaulting to info.
func (c SlogConfig) SlogLevel() slog.Level {
	switch Level(strings.ToLower(string(c.Level))) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewSlogger builds the application logger writing to stderr.
func (c Config) NewSlogger() *slog.Logger {
	return c.NewSloggerTo(os.Stderr)
}

// NewSloggerTo builds the application logger writing to w.
func (c Config) NewSloggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     c.Slog.SlogLevel(),
		AddSource: c.Slog.Source,
	}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = dropTime
	}
	var h slog.Handler
	switch c.Slog.Format {
	case FormatJSON:
		h = slog.NewJSONHandler(w, opts)
	default:
		if c.Slog.Color {
			h = NewColorTextHandler(w, opts, c.Slog.TimeStamps)
		} else {
			h = slog.NewTextHandler(w, opts)
		}
	}
	return slog.New(h)
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

// ProcessWriters returns rotating writers for a supervised process's stdout and stderr.
// Either writer is nil when no destination is configured for it.
func (c Config) ProcessWriters(name string) (io.WriteCloser, io.WriteCloser, error) {
	return c.File.Writers(name)
}

// Writers returns io.WriteClosers for stdout and stderr for the given process name.
func (c FileConfig) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout := c.StdoutPath
	stderr := c.StderrPath
	if stdout == "" && c.Dir != "" {
		stdout = filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.Dir != "" {
		stderr = filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	if c.Dir != "" {
		if err := os.MkdirAll(c.Dir, 0o750); err != nil {
			return nil, nil, err
		}
	}
	var outW io.WriteCloser
	var errW io.WriteCloser
	if stdout != "" {
		outW = c.rotating(stdout)
	}
	if stderr != "" {
		errW = c.rotating(stderr)
	}
	return outW, errW, nil
}

// Enabled reports whether any process output destination is configured.
func (c FileConfig) Enabled() bool {
	return c.Dir != "" || c.StdoutPath != "" || c.StderrPath != ""
}

func (c FileConfig) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
