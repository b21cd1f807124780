package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSetupDisabled(t *testing.T) {
	c, err := Setup(Config{})
	if err != nil || c != nil {
		t.Fatalf("disabled TLS must yield nil config, got %v %v", c, err)
	}
}

func TestSetupAutoGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tls")
	c, err := Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true, MinVersion: "1.3"})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if c.MinVersion != tls.VersionTLS13 || c.MaxVersion != tls.VersionTLS13 {
		t.Fatalf("unexpected versions %x-%x", c.MinVersion, c.MaxVersion)
	}
	for _, name := range []string{CertName, KeyName, CACertName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s not written: %v", name, err)
		}
	}
	fi, err := os.Stat(filepath.Join(dir, KeyName))
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm()&0o077 != 0 {
		t.Fatalf("private key must not be group/world readable: %v", fi.Mode())
	}

	cert, err := c.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil {
		t.Fatalf("get certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	if leaf.Subject.CommonName != "localhost" || len(leaf.IPAddresses) != 1 {
		t.Fatalf("unexpected certificate subject %v ips %v", leaf.Subject, leaf.IPAddresses)
	}

	// existing files are reused
	before, _ := os.ReadFile(filepath.Join(dir, CertName))
	if _, err := Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true}); err != nil {
		t.Fatalf("second setup: %v", err)
	}
	after, _ := os.ReadFile(filepath.Join(dir, CertName))
	if string(before) != string(after) {
		t.Fatalf("certificate regenerated although present")
	}
}

func TestSetupExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	cc := CertConfig{
		CommonName: "cam.local", Organization: "test",
		CertPath: filepath.Join(dir, "c.pem"), KeyPath: filepath.Join(dir, "k.pem"),
		NotAfter: time.Now().Add(time.Hour),
	}
	if err := GenerateSelfSignedCert(cc); err != nil {
		t.Fatalf("generate: %v", err)
	}
	c, err := Setup(Config{Enabled: true, CertFile: cc.CertPath, KeyFile: cc.KeyPath})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if c.MinVersion != tls.VersionTLS12 {
		t.Fatalf("default min version must be 1.2")
	}
}

func TestSetupMissingCertificate(t *testing.T) {
	if _, err := Setup(Config{Enabled: true, Dir: t.TempDir()}); err == nil {
		t.Fatalf("expected error without certificate files and auto_generate")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		cfg  Config
		want string
	}{
		{Config{Enabled: true}, "dir is required"},
		{Config{Enabled: true, CertFile: "a"}, "set together"},
		{Config{Enabled: true, Dir: "x", MinVersion: "1.1"}, "unknown TLS version"},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%+v: expected %q, got %v", tc.cfg, tc.want, err)
		}
	}
	if err := (Config{Dir: ""}).Validate(); err != nil {
		t.Fatalf("disabled config must validate: %v", err)
	}
}
