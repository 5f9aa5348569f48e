// Package tlsutil centralizes TLS settings for the gateway: the upstream
// connector pool and the optional TLS listener share one hardened baseline
// (TLS 1.2 minimum, AEAD-only cipher suites).
package tlsutil

import (
	"crypto/tls"
	"fmt"
)

// ClientConfig returns the hardened configuration used when dialing
// upstream providers.
func ClientConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// ServerConfig loads the certificate pair into the hardened baseline. The
// load happens eagerly so a bad pair fails at startup, not on the first
// handshake.
func ServerConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load certificate pair: %w", err)
	}
	cfg := ClientConfig()
	cfg.Certificates = []tls.Certificate{cert}
	return cfg, nil
}
