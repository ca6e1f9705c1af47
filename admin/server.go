package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/rs/zerolog/log"
)

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Address string
	Port    int
	Token   string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// Server serves the admin API, pprof and metrics on one port.
type Server struct {
	config   ServerConfig
	handlers *AdminHandlers
	listener net.Listener
	server   *http.Server
}

// NewServer creates a server for e. Call Start to begin listening.
func NewServer(config ServerConfig, e Engine) *Server {
	return &Server{config: config, handlers: NewAdminHandlers(e)}
}

// Handler builds the full HTTP mux.
func (s *Server) Handler() http.Handler {
	httpMux := http.NewServeMux()

	httpMux.HandleFunc("/debug/pprof/", pprof.Index)
	httpMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	httpMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	httpMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	httpMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if s.config.Metrics != nil {
		httpMux.Handle("/metrics", s.config.Metrics)
		log.Info().Msg("Metrics endpoint enabled at /metrics")
	}

	RegisterRoutes(httpMux, s.handlers, s.config.Token)
	return httpMux
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("address", listener.Addr().String()).Msg("Starting admin server")
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin server failed")
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Info().Msg("Stopping admin server")
	return s.server.Shutdown(ctx)
}
