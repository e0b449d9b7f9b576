package announce

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfig holds TLS certificate configuration for secure etcd
// communication. When enabled, all communication with etcd is encrypted and
// authenticated using mutual TLS.
type TLSConfig struct {
	// Enabled determines whether TLS is active.
	// If false, all other fields are ignored.
	Enabled bool `json:"enabled"`

	// CertFile is the path to the client certificate file (PEM format).
	CertFile string `json:"cert_file"`

	// KeyFile is the path to the client private key file (PEM format).
	KeyFile string `json:"key_file"`

	// CAFile is the path to the certificate authority file (PEM format),
	// used to verify the etcd server's certificate.
	CAFile string `json:"ca_file"`
}

// clientTLSConfig builds a tls.Config for client connections from the
// announcement TLS settings. Returns (nil, nil) when TLS is disabled.
func clientTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	if cfg.CertFile == "" {
		return nil, fmt.Errorf("TLS cert file is required when TLS is enabled")
	}
	if cfg.KeyFile == "" {
		return nil, fmt.Errorf("TLS key file is required when TLS is enabled")
	}
	if cfg.CAFile == "" {
		return nil, fmt.Errorf("TLS CA file is required when TLS is enabled")
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caData, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
