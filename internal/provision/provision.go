// Package provision makes sure a relay (mediamtx) executable is available
// locally, downloading the platform release when it is missing.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/loykin/camrelay/internal/fileutil"
	"github.com/loykin/camrelay/internal/metrics"
)

const (
	DefaultVersion   = "v1.0.0"
	DefaultBaseURL   = "https://github.com/bluenviron/mediamtx/releases/download"
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	DefaultTimeout   = 5 * time.Minute
	ReleasesPage     = "https://github.com/bluenviron/mediamtx/releases"

	maxArchiveBytes = 256 << 20
)

// ErrProvision is matched by every provisioning failure.
var ErrProvision = errors.New("relay binary provisioning failed")

// ProvisionError carries the outcome of both acquisition methods.
type ProvisionError struct {
	URL      string
	Platform Platform
	Primary  error
	Fallback error
}

func (e *ProvisionError) Error() string {
	var b strings.Builder
	b.WriteString(ErrProvision.Error())
	if e.URL != "" {
		b.WriteString(" (" + e.URL + ")")
	}
	if e.Primary != nil {
		fmt.Fprintf(&b, ": download: %v", e.Primary)
	}
	if e.Fallback != nil {
		fmt.Fprintf(&b, "; fallback: %v", e.Fallback)
	}
	return b.String()
}

func (e *ProvisionError) Unwrap() []error {
	errs := []error{ErrProvision}
	for _, err := range []error{e.Primary, e.Fallback} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Instructions tells an operator how to install the relay by hand.
func (e *ProvisionError) Instructions(target string) string {
	plat := e.Platform.String()
	if e.Platform.OS == "" {
		plat = runtime.GOOS + "_" + runtime.GOARCH
	}
	return fmt.Sprintf("Please download the relay manually:\n"+
		"1. Visit: %s\n"+
		"2. Find the release for %s\n"+
		"3. Download and extract it\n"+
		"4. Place the binary at %s", ReleasesPage, plat, target)
}

// Config describes which relay release to fetch and where to put it.
type Config struct {
	BinaryPath string // target path, default ./mediamtx (./mediamtx.exe on windows)
	Version    string
	BaseURL    string
	Arch       string // release arch override, e.g. armv6
	UserAgent  string
	Timeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.BinaryPath == "" {
		c.BinaryPath = "./mediamtx"
		if runtime.GOOS == "windows" {
			c.BinaryPath += ".exe"
		}
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Provisioner acquires the relay binary.
type Provisioner struct {
	cfg      Config
	client   *http.Client
	runner   Runner
	logger   *slog.Logger
	platform func() (Platform, error)
}

// Option customizes a Provisioner.
type Option func(*Provisioner)

// WithHTTPClient replaces the client used for the primary download.
func WithHTTPClient(c *http.Client) Option { return func(p *Provisioner) { p.client = c } }

// WithRunner replaces the command runner used by the curl/tar fallback.
func WithRunner(r Runner) Option { return func(p *Provisioner) { p.runner = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Provisioner) { p.logger = l } }

// WithPlatform pins the release platform instead of detecting the host.
func WithPlatform(pl Platform) Option {
	return func(p *Provisioner) { p.platform = func() (Platform, error) { return pl, nil } }
}

// New returns a Provisioner for cfg.
func New(cfg Config, opts ...Option) *Provisioner {
	cfg = cfg.withDefaults()
	p := &Provisioner{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		runner: ExecRunner{},
		logger: slog.Default(),
	}
	p.platform = func() (Platform, error) { return HostPlatform(cfg.Arch) }
	for _, o := range opts {
		o(p)
	}
	return p
}

// BinaryPath is where the relay binary is expected.
func (p *Provisioner) BinaryPath() string { return p.cfg.BinaryPath }

// URL returns the release archive URL for pl.
func (p *Provisioner) URL(pl Platform) string {
	return fmt.Sprintf("%s/%s/%s", p.cfg.BaseURL, p.cfg.Version, pl.ArchiveName(p.cfg.Version))
}

// EnsureRelayBinary returns the path of an executable relay, fetching it when absent.
// Failure of both the HTTP download and the curl/tar fallback returns a *ProvisionError.
// The target is only ever created by an atomic rename.
func (p *Provisioner) EnsureRelayBinary(ctx context.Context) (string, error) {
	target := p.cfg.BinaryPath
	if ok, err := ensureExecutable(target); err != nil {
		return "", &ProvisionError{Primary: err}
	} else if ok {
		p.logger.Debug("relay binary present", "path", target)
		return target, nil
	}

	pl, err := p.platform()
	if err != nil {
		return "", &ProvisionError{Primary: err}
	}
	if dir := filepath.Dir(target); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", &ProvisionError{Platform: pl, Primary: err}
		}
	}

	url := p.URL(pl)
	p.logger.Info("downloading relay", "url", url, "target", target)
	primary := p.download(ctx, url, pl, target)
	if primary == nil {
		metrics.RecordProvision("http", "ok")
		p.logger.Info("relay setup completed", "path", target)
		return target, nil
	}
	metrics.RecordProvision("http", "error")
	p.logger.Warn("relay download failed, trying alternative method", "error", primary)

	fallback := p.fetchWithTools(ctx, url, pl, target)
	if fallback == nil {
		metrics.RecordProvision("curl", "ok")
		p.logger.Info("relay setup completed using alternative method", "path", target)
		return target, nil
	}
	metrics.RecordProvision("curl", "error")
	return "", &ProvisionError{URL: url, Platform: pl, Primary: primary, Fallback: fallback}
}

func (p *Provisioner) download(ctx context.Context, url string, pl Platform, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveBytes+1))
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	if len(body) > maxArchiveBytes {
		return fmt.Errorf("archive exceeds %d bytes", maxArchiveBytes)
	}
	p.logger.Debug("download complete, extracting", "bytes", len(body))
	return fileutil.WriteAtomic(target, 0o755, func(w io.Writer) error {
		return extractBinary(body, pl.Ext(), pl.BinaryName(), w)
	})
}

// fetchWithTools runs curl, tar and chmod inside a private temp dir and then
// installs the extracted binary atomically.
func (p *Provisioner) fetchWithTools(ctx context.Context, url string, pl Platform, target string) error {
	tmp, err := os.MkdirTemp("", "camrelay-provision-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	archive := filepath.Join(tmp, pl.ArchiveName(p.cfg.Version))
	if err := p.runner.Run(ctx, tmp, "curl", "-L", url, "-o", archive); err != nil {
		return err
	}
	tarFlags := "-xzf"
	if pl.Ext() == "zip" {
		tarFlags = "-xf"
	}
	if err := p.runner.Run(ctx, tmp, "tar", tarFlags, archive, "-C", tmp); err != nil {
		return err
	}
	bin := filepath.Join(tmp, pl.BinaryName())
	if pl.OS != "windows" {
		if err := p.runner.Run(ctx, tmp, "chmod", "+x", bin); err != nil {
			return err
		}
	}
	// #nosec G304 -- path is inside our private temp dir
	f, err := os.Open(bin)
	if err != nil {
		return fmt.Errorf("locate extracted binary: %w", err)
	}
	defer func() { _ = f.Close() }()
	return fileutil.WriteAtomic(target, 0o755, func(w io.Writer) error {
		_, err := io.Copy(w, f)
		return err
	})
}
