package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/therealutkarshpriyadarshi/logdebug/internal/logging"
)

// Config holds server configuration
type Config struct {
	Address      string
	Handler      http.Handler
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// TLS, when set, serves HTTPS with the given certificates
	TLS    *tls.Config
	Logger *logging.Logger
}

// Server runs the HTTP listener for the API, health and metrics routes
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *logging.Logger
}

// New creates a new server
func New(cfg Config) *Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           cfg.Handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			TLSConfig:         cfg.TLS,
		},
		logger: logger.WithComponent("server"),
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly; errors shortly after startup are reported too.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("address", ln.Addr().String()).
			Bool("tls", s.httpServer.TLSConfig != nil).
			Msg("Starting HTTP server")

		var err error
		if s.httpServer.TLSConfig != nil {
			// certificates come from TLSConfig
			err = s.httpServer.ServeTLS(ln, "", "")
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// Wait a bit to see if there are any immediate startup errors
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Stop gracefully shuts down the server, waiting for in-flight requests
// until ctx expires
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}
	return nil
}
