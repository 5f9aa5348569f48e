// Package server manages the gateway's HTTP listener lifecycle: cleartext
// or TLS serving, asynchronous error reporting, and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ccgw/cc-gw/internal/tlsutil"
)

// Config sizes the listener.
type Config struct {
	Addr string
	// CertFile/KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration
}

// DefaultConfig returns listener settings suited to a streaming proxy:
// no write timeout (SSE responses are open-ended), modest header limits.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Manager owns one http.Server.
type Manager struct {
	server   *http.Server
	listener net.Listener
	errCh    chan error
	config   Config
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewManager wires a handler into a server. Start begins serving.
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
		errCh:  make(chan error, 1),
		config: cfg,
		logger: logger.With(zap.String("component", "http_server")),
	}
}

// Start binds the listener and serves in the background. TLS is used when
// the config carries certificate paths.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("server is closed")
	}
	if m.listener != nil {
		return fmt.Errorf("server already started")
	}

	useTLS := m.config.CertFile != "" && m.config.KeyFile != ""
	if useTLS {
		tlsCfg, err := tlsutil.ServerConfig(m.config.CertFile, m.config.KeyFile)
		if err != nil {
			return err
		}
		m.server.TLSConfig = tlsCfg
	}

	listener, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.config.Addr, err)
	}
	m.listener = listener

	m.logger.Info("listening",
		zap.String("addr", listener.Addr().String()),
		zap.Bool("tls", useTLS),
	)

	go func() {
		var err error
		if useTLS {
			// The certificate pair already lives in TLSConfig.
			err = m.server.ServeTLS(listener, "", "")
		} else {
			err = m.server.Serve(listener)
		}
		if err != nil && err != http.ErrServerClosed {
			m.logger.Error("server failed", zap.Error(err))
			select {
			case m.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// Addr returns the bound address, useful when the configured port is 0.
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}

// Errors reports asynchronous serve failures.
func (m *Manager) Errors() <-chan error { return m.errCh }

// Shutdown stops accepting connections and drains in-flight requests
// within the configured timeout.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()
	if err := m.server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("shutdown failed", zap.Error(err))
		return err
	}
	m.logger.Info("stopped")
	return nil
}
