package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/0xmhha/evm-block-extractor/pkg/api/jsonrpc"
	apimiddleware "github.com/0xmhha/evm-block-extractor/pkg/api/middleware"
	"github.com/0xmhha/evm-block-extractor/pkg/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes stored blocks and receipts over HTTP
type Server struct {
	config   *Config
	logger   *zap.Logger
	storage  storage.Reader
	gatherer prometheus.Gatherer
	router   *chi.Mux
	server   *http.Server
	limiter  *apimiddleware.RateLimiter
}

// NewServer creates the read API server. A nil gatherer serves the
// default Prometheus registry.
func NewServer(config *Config, logger *zap.Logger, store storage.Reader, gatherer prometheus.Gatherer) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:   config,
		logger:   logger,
		storage:  store,
		gatherer: gatherer,
		router:   chi.NewRouter(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s, nil
}

func (s *Server) setupMiddleware() {
	// recovery stays outermost
	s.router.Use(apimiddleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apimiddleware.Logger(s.logger))

	if s.config.EnableRateLimit {
		s.limiter = apimiddleware.NewRateLimiter(s.config.RateLimitPerSecond, s.config.RateLimitBurst, s.logger)
		s.router.Use(s.limiter.Handler)
		s.logger.Info("rate limiting enabled",
			zap.Float64("rate_per_second", s.config.RateLimitPerSecond),
			zap.Int("burst", s.config.RateLimitBurst),
		)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Method(http.MethodPost, s.config.JSONRPCPath, jsonrpc.NewServer(s.storage, s.logger))
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string  `json:"status"`
	Timestamp   string  `json:"timestamp"`
	LatestBlock *uint64 `json:"latest_block"`
	Error       string  `json:"error,omitempty"`
}

// handleHealth reports the stored head; a failing store answers 503
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	latest, ok, err := s.storage.GetLatestBlockNumber(r.Context())
	switch {
	case err != nil:
		response.Status = "unavailable"
		response.Error = err.Error()
		status = http.StatusServiceUnavailable
	case ok:
		response.LatestBlock = &latest
	}

	writeJSON(w, status, response)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "evm-block-extractor",
		"version": s.config.Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start serves until Stop is called
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting API server",
		zap.String("address", ln.Addr().String()),
		zap.String("jsonrpc_path", s.config.JSONRPCPath),
	)
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")
	if s.limiter != nil {
		s.limiter.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}

// Router returns the underlying chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}
