package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/camrelay"
	"github.com/loykin/camrelay/internal/config"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake relay and encoder scripts require /bin/sh")
	}
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

// fakeEncoder answers -version and device listing, then runs capture.
func fakeEncoder(t *testing.T, dir, capture string) string {
	return writeScript(t, dir, "ffmpeg", `case "$*" in
  *-version*) echo "ffmpeg version 7.0"; exit 0 ;;
  *list_devices*) echo "[AVFoundation indev @ 0x1] [0] FaceTime HD Camera" >&2; exit 1 ;;
esac
`+capture)
}

func serveConfig(t *testing.T, capture string) *config.Config {
	t.Helper()
	requireUnix(t)
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Log.Slog.Level = "error"
	cfg.Relay.Provision = false
	cfg.Relay.Binary = writeScript(t, dir, "mediamtx", "exec sleep 30")
	cfg.Relay.ConfigPath = filepath.Join(dir, "mediamtx.yml")
	cfg.Relay.Settle = 100 * time.Millisecond
	cfg.Relay.StopTimeout = time.Second
	cfg.Encoder.Path = fakeEncoder(t, dir, capture)
	cfg.Encoder.API = "avfoundation"
	cfg.Encoder.ProbeDelay = 200 * time.Millisecond
	cfg.Encoder.StopTimeout = time.Second
	cfg.Monitor.Interval = 50 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, buf *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(buf.String(), want) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in:\n%s", want, buf.String())
}

func TestRunServeStopsOnCancel(t *testing.T) {
	cfg := serveConfig(t, "exec sleep 30")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	errCh := make(chan error, 1)
	go func() { errCh <- runServe(ctx, cfg, ServeFlags{}, out, nil) }()

	waitFor(t, out, "rtsp://localhost:8554/webcam")
	if !strings.Contains(out.String(), "FaceTime HD Camera") {
		t.Fatalf("device list not printed:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Press Ctrl+C to stop.") {
		t.Fatalf("non-interactive hint missing:\n%s", out.String())
	}
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runServe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runServe did not return after cancel")
	}
}

func TestRunServeStopsOnEnter(t *testing.T) {
	cfg := serveConfig(t, "exec sleep 30")
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()
	out := &syncBuffer{}
	errCh := make(chan error, 1)
	go func() { errCh <- runServe(context.Background(), cfg, ServeFlags{StopOnEnter: true}, out, pr) }()

	waitFor(t, out, "Press Enter to stop")
	_, _ = pw.Write([]byte("\n"))
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runServe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runServe did not return after Enter")
	}
}

func TestRunServeCaptureFailure(t *testing.T) {
	cfg := serveConfig(t, `echo "Input/output error" >&2; exit 1`)
	err := runServe(context.Background(), cfg, ServeFlags{}, io.Discard, nil)
	if !errors.Is(err, camrelay.ErrCaptureStart) {
		t.Fatalf("expected capture start error, got %v", err)
	}
}

func TestRunServeStatusAPI(t *testing.T) {
	cfg := serveConfig(t, "exec sleep 30")
	cfg.Server.Listen = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	errCh := make(chan error, 1)
	go func() { errCh <- runServe(ctx, cfg, ServeFlags{}, out, nil) }()
	waitFor(t, out, "RTSP stream is live")
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("runServe: %v", err)
	}
}

func TestRunServeListenError(t *testing.T) {
	ln := httptest.NewServer(http.NotFoundHandler())
	defer ln.Close()
	cfg := serveConfig(t, "exec sleep 30")
	addr := strings.TrimPrefix(ln.URL, "http://")
	if err := runServe(context.Background(), cfg, ServeFlags{Listen: addr}, io.Discard, nil); err == nil {
		t.Fatalf("expected listen error on a used address")
	}
}

func execRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := buildRoot(config.NewViper())
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRenderConfigCommand(t *testing.T) {
	out, _, err := execRoot(t, "render-config", "--port", "9000", "--path", "/cam")
	if err != nil {
		t.Fatalf("render-config: %v", err)
	}
	if !strings.Contains(out, "rtspAddress: :9000") || !strings.Contains(out, "cam:") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestRenderConfigFromFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "camrelay.toml")
	if err := os.WriteFile(p, []byte("[stream]\nport = 7554\npath = \"/lab\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, _, err := execRoot(t, "render-config", "--config", p)
	if err != nil {
		t.Fatalf("render-config: %v", err)
	}
	if !strings.Contains(out, "rtspAddress: :7554") || !strings.Contains(out, "lab:") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestInvalidFlagValueFails(t *testing.T) {
	if _, _, err := execRoot(t, "render-config", "--path", "nopath"); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execRoot(t, "version")
	if err != nil || !strings.Contains(out, "camrelay") || !strings.Contains(out, "mediamtx v") {
		t.Fatalf("version: %v %q", err, out)
	}
}

func TestDevicesCommand(t *testing.T) {
	requireUnix(t)
	enc := fakeEncoder(t, t.TempDir(), "exit 2")
	out, _, err := execRoot(t, "devices", "--encoder", enc, "--capture-api", "avfoundation")
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if !strings.Contains(out, "[0] FaceTime HD Camera") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestFetchFailurePrintsInstructions(t *testing.T) {
	requireUnix(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "camrelay.toml")
	target := filepath.Join(dir, "bin", "mediamtx")
	data := "[relay]\nbinary = \"" + target + "\"\ndownload_base = \"" + srv.URL + "\"\n[log.slog]\nlevel = \"error\"\n"
	if err := os.WriteFile(cfgPath, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	_, stderr, err := execRoot(t, "fetch", "--config", cfgPath)
	if !errors.Is(err, camrelay.ErrProvision) {
		t.Fatalf("expected provision error, got %v", err)
	}
	if !strings.Contains(stderr, "Please download the relay manually") || !strings.Contains(stderr, target) {
		t.Fatalf("instructions missing:\n%s", stderr)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("no binary must be left behind: %v", err)
	}
}
