package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/HerbHall/hostagent/internal/version"
	"go.uber.org/zap"
)

// Status is the agent state reported on the local status endpoints.
type Status struct {
	State      string `json:"state"`
	ResourceID string `json:"resource_id,omitempty"`
	Buffered   int    `json:"buffered"`
	Dropped    uint64 `json:"dropped"`
}

// StatusFunc reports the current agent status.
type StatusFunc func() Status

// Server exposes the agent's health, readiness and Prometheus metrics.
type Server struct {
	httpServer *http.Server
	status     StatusFunc
	logger     *zap.Logger
	mux        *http.ServeMux
	handler    http.Handler
}

// New creates a new Server instance. metrics may be nil, in which case
// /metrics is not mounted.
func New(addr string, status StatusFunc, metrics http.Handler, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		status: status,
		logger: logger,
		mux:    mux,
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /readyz", s.handleReady)
	if metrics != nil {
		s.mux.Handle("GET /metrics", metrics)
	}
	s.mux.HandleFunc("/", s.handleNotFound)

	s.handler = s.recoverPanics(mux)
	s.httpServer.Handler = s.handler

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// recoverPanics turns a panicking handler into a 500 problem response.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("handler panic",
					zap.String("path", r.URL.Path),
					zap.Any("panic", p),
				)
				InternalError(w, "internal server error", r.URL.Path)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.status()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Hostagent-Version", version.Short())
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "hostagent",
		"version": version.Map(),
		"agent":   st,
	})
}

// handleReady reports 200 only while the agent is running.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	st := s.status()
	if st.State != "running" {
		Unavailable(w, fmt.Sprintf("agent is %s", st.State), r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	NotFound(w, "no route for "+r.URL.Path, r.URL.Path)
}
