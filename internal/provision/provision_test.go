package provision

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Mode: 0o755, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// fakeRunner emulates curl/tar/chmod without touching the network.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	dirs    []string
	archive []byte
	failOn  string
}

func (f *fakeRunner) Run(_ context.Context, dir, name string, args ...string) error {
	f.mu.Lock()
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	f.dirs = append(f.dirs, dir)
	f.mu.Unlock()
	if name == f.failOn {
		return fmt.Errorf("%s: exit status 1", name)
	}
	switch name {
	case "curl":
		return os.WriteFile(args[len(args)-1], f.archive, 0o600)
	case "tar":
		return extractAllTarGz(args[1], args[3])
	}
	return nil
}

func extractAllTarGz(archive, dir string) error {
	b, err := os.ReadFile(archive)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := extractTarGz(bytes.NewReader(b), "mediamtx", &out); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "mediamtx"), out.Bytes(), 0o644)
}

func TestResolvePlatform(t *testing.T) {
	tests := []struct {
		goos, goarch, override string
		want                   string
		wantErr                bool
	}{
		{"darwin", "amd64", "", "darwin_amd64", false},
		{"darwin", "arm64", "", "darwin_arm64", false},
		{"linux", "amd64", "", "linux_amd64", false},
		{"linux", "arm64", "", "linux_arm64v8", false},
		{"linux", "arm", "", "linux_armv7", false},
		{"linux", "arm", "armv6", "linux_armv6", false},
		{"windows", "amd64", "", "windows_amd64", false},
		{"windows", "arm64", "", "", true},
		{"plan9", "amd64", "", "", true},
		{"darwin", "amd64", "armv6", "", true},
	}
	for _, tt := range tests {
		got, err := ResolvePlatform(tt.goos, tt.goarch, tt.override)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s/%s/%s: err=%v wantErr=%v", tt.goos, tt.goarch, tt.override, err, tt.wantErr)
		}
		if err == nil && got.String() != tt.want {
			t.Fatalf("%s/%s: got %s want %s", tt.goos, tt.goarch, got, tt.want)
		}
	}
}

func TestArchiveNameAndURL(t *testing.T) {
	p := New(Config{BaseURL: "https://example.test/dl/"})
	pl := Platform{OS: "darwin", Arch: "amd64"}
	want := "https://example.test/dl/v1.0.0/mediamtx_v1.0.0_darwin_amd64.tar.gz"
	if got := p.URL(pl); got != want {
		t.Fatalf("URL = %s, want %s", got, want)
	}
	win := Platform{OS: "windows", Arch: "amd64"}
	if got := win.ArchiveName("v1.2.3"); got != "mediamtx_v1.2.3_windows_amd64.zip" {
		t.Fatalf("ArchiveName = %s", got)
	}
	if win.BinaryName() != "mediamtx.exe" {
		t.Fatalf("BinaryName = %s", win.BinaryName())
	}
}

func TestEnsureExistingBinaryIsNoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected download request %s", r.URL)
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "mediamtx")
	if err := os.WriteFile(target, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := New(Config{BinaryPath: target, BaseURL: srv.URL}, WithLogger(quiet))
	got, err := p.EnsureRelayBinary(context.Background())
	if err != nil || got != target {
		t.Fatalf("EnsureRelayBinary = %q, %v", got, err)
	}
	if runtime.GOOS != "windows" {
		fi, _ := os.Stat(target)
		if fi.Mode().Perm()&0o111 == 0 {
			t.Fatalf("existing binary not made executable: %v", fi.Mode())
		}
	}
}

func TestEnsureDownloadsTarGz(t *testing.T) {
	archive := tarGz(t, map[string]string{"mediamtx": "RELAY", "LICENSE": "mit", "mediamtx.yml": "x: 1"})
	var gotUA, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotPath = r.URL.Path
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	dir := t.TempDir()
	target := filepath.Join(dir, "bin", "mediamtx")
	p := New(Config{BinaryPath: target, BaseURL: srv.URL},
		WithPlatform(Platform{OS: "linux", Arch: "amd64"}), WithLogger(quiet))
	got, err := p.EnsureRelayBinary(context.Background())
	if err != nil {
		t.Fatalf("EnsureRelayBinary: %v", err)
	}
	if got != target {
		t.Fatalf("path = %s", got)
	}
	if gotPath != "/v1.0.0/mediamtx_v1.0.0_linux_amd64.tar.gz" {
		t.Fatalf("requested %s", gotPath)
	}
	if !strings.HasPrefix(gotUA, "Mozilla/5.0") {
		t.Fatalf("missing browser user agent: %q", gotUA)
	}
	b, err := os.ReadFile(target)
	if err != nil || string(b) != "RELAY" {
		t.Fatalf("content %q err=%v", string(b), err)
	}
	if runtime.GOOS != "windows" {
		fi, _ := os.Stat(target)
		if fi.Mode().Perm() != 0o755 {
			t.Fatalf("mode = %v", fi.Mode().Perm())
		}
	}
	entries, _ := os.ReadDir(filepath.Dir(target))
	if len(entries) != 1 {
		t.Fatalf("stray files next to target: %v", entries)
	}
}

func TestEnsureDownloadsZip(t *testing.T) {
	archive := zipArchive(t, map[string]string{"mediamtx.exe": "WINRELAY"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "_windows_amd64.zip") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "mediamtx.exe")
	p := New(Config{BinaryPath: target, BaseURL: srv.URL},
		WithPlatform(Platform{OS: "windows", Arch: "amd64"}), WithLogger(quiet))
	if _, err := p.EnsureRelayBinary(context.Background()); err != nil {
		t.Fatalf("EnsureRelayBinary: %v", err)
	}
	b, _ := os.ReadFile(target)
	if string(b) != "WINRELAY" {
		t.Fatalf("content %q", string(b))
	}
}

func TestFallbackAfterDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "mediamtx")
	r := &fakeRunner{archive: tarGz(t, map[string]string{"mediamtx_v1.0.0/mediamtx": "FROMCURL"})}
	p := New(Config{BinaryPath: target, BaseURL: srv.URL},
		WithPlatform(Platform{OS: "darwin", Arch: "amd64"}), WithRunner(r), WithLogger(quiet))
	if _, err := p.EnsureRelayBinary(context.Background()); err != nil {
		t.Fatalf("EnsureRelayBinary: %v", err)
	}
	b, _ := os.ReadFile(target)
	if string(b) != "FROMCURL" {
		t.Fatalf("content %q", string(b))
	}
	if len(r.calls) != 3 {
		t.Fatalf("expected curl, tar, chmod; got %v", r.calls)
	}
	for i, prefix := range []string{"curl -L " + srv.URL + "/v1.0.0/mediamtx_v1.0.0_darwin_amd64.tar.gz -o ", "tar -xzf ", "chmod +x "} {
		if !strings.HasPrefix(r.calls[i], prefix) {
			t.Fatalf("call %d = %q, want prefix %q", i, r.calls[i], prefix)
		}
	}
	if _, err := os.Stat(r.dirs[0]); !os.IsNotExist(err) {
		t.Fatalf("fallback temp dir not removed: %v", err)
	}
}

func TestBothMethodsFail(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dir := t.TempDir()
	target := filepath.Join(dir, "mediamtx")
	r := &fakeRunner{failOn: "curl"}
	p := New(Config{BinaryPath: target, BaseURL: srv.URL},
		WithPlatform(Platform{OS: "darwin", Arch: "amd64"}), WithRunner(r), WithLogger(quiet))
	_, err := p.EnsureRelayBinary(context.Background())
	if !errors.Is(err, ErrProvision) {
		t.Fatalf("expected ErrProvision, got %v", err)
	}
	var pe *ProvisionError
	if !errors.As(err, &pe) || pe.Primary == nil || pe.Fallback == nil {
		t.Fatalf("expected both causes, got %#v", err)
	}
	if !strings.Contains(pe.Instructions(target), ReleasesPage) || !strings.Contains(pe.Instructions(target), "darwin_amd64") {
		t.Fatalf("instructions missing details: %s", pe.Instructions(target))
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("stray files after failure: %v", entries)
	}
	if _, err := os.Stat(r.dirs[0]); !os.IsNotExist(err) {
		t.Fatalf("fallback temp dir not removed: %v", err)
	}
}

func TestArchiveWithoutBinary(t *testing.T) {
	archive := tarGz(t, map[string]string{"README.md": "nothing here"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "mediamtx")
	p := New(Config{BinaryPath: target, BaseURL: srv.URL},
		WithPlatform(Platform{OS: "linux", Arch: "amd64"}), WithRunner(&fakeRunner{failOn: "curl"}), WithLogger(quiet))
	_, err := p.EnsureRelayBinary(context.Background())
	if !errors.Is(err, errBinaryNotFound) {
		t.Fatalf("expected errBinaryNotFound in chain, got %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("target must not exist: %v", err)
	}
}
