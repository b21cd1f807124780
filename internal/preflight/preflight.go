// Package preflight checks the encoder before anything is launched and lists
// capture devices for the operator.
package preflight

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// ErrEncoderMissing means the encoder binary is not installed or not runnable.
var ErrEncoderMissing = errors.New("encoder not found")

// CaptureAPI names an ffmpeg capture input format.
type CaptureAPI string

const (
	AVFoundation CaptureAPI = "avfoundation"
	V4L2         CaptureAPI = "v4l2"
	DShow        CaptureAPI = "dshow"
)

// DefaultCaptureAPI is the capture API native to the host OS.
func DefaultCaptureAPI() CaptureAPI {
	switch runtime.GOOS {
	case "linux":
		return V4L2
	case "windows":
		return DShow
	default:
		return AVFoundation
	}
}

// ParseCaptureAPI validates s; empty selects DefaultCaptureAPI.
func ParseCaptureAPI(s string) (CaptureAPI, error) {
	switch CaptureAPI(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultCaptureAPI(), nil
	case AVFoundation:
		return AVFoundation, nil
	case V4L2:
		return V4L2, nil
	case DShow:
		return DShow, nil
	}
	return "", fmt.Errorf("unknown capture api %q (want avfoundation, v4l2 or dshow)", s)
}

// InstallHint is the operator advice shown when the encoder is missing.
func InstallHint() string {
	switch runtime.GOOS {
	case "darwin":
		return "brew install ffmpeg"
	case "linux":
		return "apt install ffmpeg (or your distribution's package manager)"
	case "windows":
		return "winget install ffmpeg"
	default:
		return "install ffmpeg from https://ffmpeg.org/download.html"
	}
}

// EncoderMissingError describes why the encoder check failed.
type EncoderMissingError struct {
	Encoder string
	Cause   error
}

func (e *EncoderMissingError) Error() string {
	return fmt.Sprintf("%s: %s (%v); please install it using: %s", ErrEncoderMissing, e.Encoder, e.Cause, InstallHint())
}

func (e *EncoderMissingError) Unwrap() []error { return []error{ErrEncoderMissing, e.Cause} }

// Checker runs the encoder in its diagnostic modes.
type Checker struct {
	Encoder string // path or name of ffmpeg
	API     CaptureAPI
	Timeout time.Duration // per invocation, default 10s
}

func (c Checker) encoder() string {
	if c.Encoder == "" {
		return "ffmpeg"
	}
	return c.Encoder
}

func (c Checker) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 10 * time.Second
	}
	return c.Timeout
}

// CheckEncoder runs `<encoder> -version`; a missing binary or non-zero exit is an *EncoderMissingError.
func (c Checker) CheckEncoder(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	// #nosec G204 -- encoder path comes from operator configuration
	cmd := exec.CommandContext(ctx, c.encoder(), "-version")
	if err := cmd.Run(); err != nil {
		return &EncoderMissingError{Encoder: c.encoder(), Cause: err}
	}
	return nil
}

// ListArgs returns the device listing invocation for api.
func ListArgs(api CaptureAPI) []string {
	switch api {
	case DShow:
		return []string{"-f", "dshow", "-list_devices", "true", "-i", "dummy"}
	case V4L2:
		return []string{"-sources", "v4l2"}
	default:
		return []string{"-f", "avfoundation", "-list_devices", "true", "-i", ""}
	}
}

// ListDevices runs the encoder's device listing mode and returns its combined output.
// The encoder exits non-zero in listing mode, so an exit error is not reported
// when output was produced.
func (c Checker) ListDevices(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	api := c.API
	if api == "" {
		api = DefaultCaptureAPI()
	}
	var out bytes.Buffer
	// #nosec G204 -- encoder path comes from operator configuration
	cmd := exec.CommandContext(ctx, c.encoder(), ListArgs(api)...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	text := strings.TrimSpace(out.String())
	var ee *exec.ExitError
	if err != nil && (!errors.As(err, &ee) || text == "") {
		return text, fmt.Errorf("list %s devices: %w", api, err)
	}
	return text, nil
}
