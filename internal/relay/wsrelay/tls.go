package wsrelay

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrTLSCAFileRequired    = errors.New("wsrelay: tls ca file required")
	ErrTLSKeyPairIncomplete = errors.New("wsrelay: tls cert and key must be set together")
	ErrTLSInvalidCA         = errors.New("wsrelay: no certificates found in ca file")
)

// ClientTLS configures wss:// dials. CertFile and KeyFile enable mutual TLS.
type ClientTLS struct {
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

func (c ClientTLS) Validate() error {
	if strings.TrimSpace(c.CAFile) == "" && !c.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	if (strings.TrimSpace(c.CertFile) == "") != (strings.TrimSpace(c.KeyFile) == "") {
		return ErrTLSKeyPairIncomplete
	}
	return nil
}

// Config builds the client tls.Config.
func (c ClientTLS) Config() (*tls.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	out := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         strings.TrimSpace(c.ServerName),
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
	if path := strings.TrimSpace(c.CAFile); path != "" {
		pool, err := loadPool(path)
		if err != nil {
			return nil, err
		}
		out.RootCAs = pool
	}
	if strings.TrimSpace(c.CertFile) != "" {
		pair, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client key pair: %w", err)
		}
		out.Certificates = []tls.Certificate{pair}
	}
	return out, nil
}

// ServerTLS configures the hub listener. ClientCAFile requires client certificates.
type ServerTLS struct {
	CertFile     string `toml:"cert_file"`
	KeyFile      string `toml:"key_file"`
	ClientCAFile string `toml:"client_ca_file"`
}

func (s ServerTLS) Enabled() bool {
	return strings.TrimSpace(s.CertFile) != "" || strings.TrimSpace(s.KeyFile) != ""
}

func (s ServerTLS) Config() (*tls.Config, error) {
	if strings.TrimSpace(s.CertFile) == "" || strings.TrimSpace(s.KeyFile) == "" {
		return nil, ErrTLSKeyPairIncomplete
	}
	pair, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server key pair: %w", err)
	}
	out := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{pair},
	}
	if path := strings.TrimSpace(s.ClientCAFile); path != "" {
		pool, err := loadPool(path)
		if err != nil {
			return nil, err
		}
		out.ClientCAs = pool
		out.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return out, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("%w: %s", ErrTLSInvalidCA, path)
	}
	return pool, nil
}
