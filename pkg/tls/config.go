// Package tls builds the server-side TLS configuration for the HTTP API,
// from PEM files or a generated self-signed certificate.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"
)

// DefaultValidFor is the lifetime of generated certificates
const DefaultValidFor = 365 * 24 * time.Hour

var ErrNoCertificate = errors.New("TLS enabled but no certificate configured")

// Config describes where the server certificate comes from
type Config struct {
	CertFile string
	KeyFile  string
	// CAFile enables client certificate verification against this bundle
	CAFile string
	// SelfSigned generates an in-memory certificate when no files are given
	SelfSigned bool
	Hosts      []string
	ValidFor   time.Duration
}

// Enabled reports whether any certificate source is configured
func (c Config) Enabled() bool {
	return c.CertFile != "" || c.SelfSigned
}

// Load returns the server TLS config, or nil when TLS is disabled
func Load(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	var (
		cert tls.Certificate
		err  error
	)
	switch {
	case cfg.CertFile != "" && cfg.KeyFile != "":
		cert, err = tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
	case cfg.SelfSigned:
		cert, err = GenerateSelfSigned(cfg.Hosts, cfg.ValidFor)
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
	default:
		return nil, ErrNoCertificate
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.CAFile != "" {
		pool, err := LoadCAPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsConfig, nil
}

// LoadCAPool reads a PEM bundle of CA certificates
func LoadCAPool(caFile string) (*x509.CertPool, error) {
	pemData, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	return pool, nil
}

// CertificateInfo holds the fields operators care about
type CertificateInfo struct {
	Subject   string
	NotBefore time.Time
	NotAfter  time.Time
	DNSNames  []string
}

// ExpiresIn returns the time left until NotAfter, relative to now
func (ci CertificateInfo) ExpiresIn(now time.Time) time.Duration {
	return ci.NotAfter.Sub(now)
}

// Describe summarises the first certificate of cfg
func Describe(cfg *tls.Config) (CertificateInfo, error) {
	if cfg == nil || len(cfg.Certificates) == 0 {
		return CertificateInfo{}, ErrNoCertificate
	}
	c := cfg.Certificates[0]
	leaf := c.Leaf
	if leaf == nil {
		if len(c.Certificate) == 0 {
			return CertificateInfo{}, ErrNoCertificate
		}
		var err error
		if leaf, err = x509.ParseCertificate(c.Certificate[0]); err != nil {
			return CertificateInfo{}, fmt.Errorf("failed to parse certificate: %w", err)
		}
	}
	return CertificateInfo{
		Subject:   leaf.Subject.String(),
		NotBefore: leaf.NotBefore,
		NotAfter:  leaf.NotAfter,
		DNSNames:  leaf.DNSNames,
	}, nil
}
