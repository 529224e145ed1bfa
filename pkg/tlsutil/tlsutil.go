// Package tlsutil builds TLS configurations: client configs for
// control-plane connections and server configs for the observability
// endpoint.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/JeffersonLab/e2sar-utils/errors"
)

// ClientConfig describes how to talk TLS to a control plane endpoint.
type ClientConfig struct {
	// CAFile is an optional PEM bundle added to the system roots, for
	// control planes running with a private CA.
	CAFile string `yaml:"ca_file"`

	// InsecureSkipVerify disables certificate validation. Maps to the
	// -novalidate command line flag.
	InsecureSkipVerify bool `yaml:"novalidate"`

	// MinVersion is "1.2" or "1.3". Defaults to 1.2.
	MinVersion string `yaml:"min_version"`
}

// LoadClientTLSConfig creates a tls.Config for control-plane clients.
// The system CA bundle is always trusted; CAFile adds to it.
func LoadClientTLSConfig(cfg ClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(cfg.MinVersion),
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		// System pool unavailable, start empty
		rootCAs = x509.NewCertPool()
	}

	if cfg.CAFile != "" {
		caPEM, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig",
				fmt.Sprintf("read CA file %s", cfg.CAFile))
		}
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapFatal(
				fmt.Errorf("invalid PEM data"),
				"tlsutil",
				"LoadClientTLSConfig",
				fmt.Sprintf("parse CA certificate from %s", cfg.CAFile),
			)
		}
	}

	tlsConfig.RootCAs = rootCAs

	// Intentional via config - operators know the security implications
	if cfg.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	return tlsConfig, nil
}

// ServerConfig describes the TLS identity of an embedded HTTP server.
type ServerConfig struct {
	// Enabled turns TLS on for the endpoint.
	Enabled bool `yaml:"enabled"`

	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MinVersion is "1.2" or "1.3". Defaults to 1.2.
	MinVersion string `yaml:"min_version"`
}

// LoadServerTLSConfig creates a tls.Config for embedded HTTP servers.
// A disabled config yields nil.
func LoadServerTLSConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}, nil
}

// parseTLSVersion converts a version string to a crypto/tls constant.
// Returns tls.VersionTLS12 if empty or invalid.
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	case "1.2":
		return tls.VersionTLS12
	default:
		return tls.VersionTLS12
	}
}
