// Package tls builds the server-side TLS configuration of the status API,
// optionally generating a self-signed certificate on first use.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	CACertName = "tls_ca.crt"
	CertName   = "tls.crt"
	KeyName    = "tls.key"
)

func parseVersion(ver string) (uint16, bool) {
	switch ver {
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// versions defaults to TLS 1.2 through 1.3.
func versions(cfg Config) (lo uint16, hi uint16) {
	lo, hi = tls.VersionTLS12, tls.VersionTLS13
	if v, ok := parseVersion(cfg.MinVersion); ok {
		lo = v
	}
	if v, ok := parseVersion(cfg.MaxVersion); ok {
		hi = v
	}
	return
}

// safeReadFile reads p only when it lives under baseDir.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// certificateFunc reloads the pair on every handshake.
func certificateFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(filepath.Dir(keyFile), keyFile)
		if err != nil {
			return nil, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		return &cert, err
	}
}

// Setup returns nil when TLS is disabled.
func Setup(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	certPath, keyPath := cfg.CertFile, cfg.KeyFile
	if certPath == "" {
		certPath = filepath.Join(cfg.Dir, CertName)
		keyPath = filepath.Join(cfg.Dir, KeyName)
		if cfg.AutoGenerate && !exists(certPath, keyPath) {
			if err := generate(cfg.AutoGen, cfg.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}
	// fail at startup rather than on the first handshake
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}

	lo, hi := versions(cfg)
	return &tls.Config{
		GetCertificate: certificateFunc(certPath, keyPath),
		MinVersion:     lo,
		MaxVersion:     hi,
	}, nil
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

func orDefaultSlice(value, def []string) []string {
	if len(value) == 0 {
		return def
	}
	return value
}

func generate(ag AutoGen, dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	validDays := ag.ValidDays
	if validDays <= 0 {
		validDays = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   orDefault(ag.CommonName, "localhost"),
		Organization: orDefault(ag.Organization, "camrelay"),
		DNSNames:     orDefaultSlice(ag.DNSNames, []string{"localhost"}),
		IPAddresses:  orDefaultSlice(ag.IPAddresses, []string{"127.0.0.1"}),
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     filepath.Join(dir, CertName),
		KeyPath:      filepath.Join(dir, KeyName),
		CACertPath:   filepath.Join(dir, CACertName),
	})
}
