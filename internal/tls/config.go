package tls

import (
	"errors"
	"fmt"
)

// Config enables HTTPS on the status API.
type Config struct {
	Enabled      bool    `mapstructure:"enabled"`
	CertFile     string  `mapstructure:"cert_file"`
	KeyFile      string  `mapstructure:"key_file"`
	Dir          string  `mapstructure:"dir"` // holds tls.crt / tls.key, used when CertFile is empty
	AutoGenerate bool    `mapstructure:"auto_generate"`
	MinVersion   string  `mapstructure:"min_version"` // "1.2" or "1.3"
	MaxVersion   string  `mapstructure:"max_version"`
	AutoGen      AutoGen `mapstructure:"auto_gen"`
}

// AutoGen shapes the self-signed certificate written when AutoGenerate is set.
type AutoGen struct {
	CommonName   string   `mapstructure:"common_name"`
	Organization string   `mapstructure:"organization"`
	DNSNames     []string `mapstructure:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days"`
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if (c.CertFile == "") != (c.KeyFile == "") {
		errs = append(errs, errors.New("server.tls: cert_file and key_file must be set together"))
	}
	if c.CertFile == "" && c.Dir == "" {
		errs = append(errs, errors.New("server.tls: cert_file/key_file or dir is required"))
	}
	for _, v := range []string{c.MinVersion, c.MaxVersion} {
		if _, ok := parseVersion(v); !ok && v != "" && v != "default" {
			errs = append(errs, fmt.Errorf("server.tls: unknown TLS version %q", v))
		}
	}
	return errors.Join(errs...)
}
