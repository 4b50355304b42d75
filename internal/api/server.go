// Package api runs the HTTP server that fronts the LINE webhook.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wrenhsu/kaiwa/internal/buildinfo"
)

// Server is the webhook HTTP server.
type Server struct {
	address string
	port    int
	webhook http.Handler
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates the server. webhook handles POST /webhook.
func NewServer(address string, port int, webhook http.Handler, logger *slog.Logger) *Server {
	return &Server{
		address: address,
		port:    port,
		webhook: webhook,
		logger:  logger.With("component", "api"),
	}
}

// Start begins serving HTTP requests. Blocks until Shutdown or a fatal
// listener error.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.Handle("POST /webhook", s.webhook)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Tool rounds can take a while
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting webhook server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"uptime": buildinfo.Uptime().String(),
	}); err != nil {
		s.logger.Debug("failed to write health response", "error", err)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(buildinfo.Info()); err != nil {
		s.logger.Debug("failed to write version response", "error", err)
	}
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
