package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// OpsConfig configures the operational HTTP server
type OpsConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultOpsConfig returns default ops server configuration
func DefaultOpsConfig() OpsConfig {
	return OpsConfig{
		Addr:         ":9090",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// NewOpsRouter builds the health and metrics routes. A nil metricsHandler
// leaves /metrics unregistered.
func NewOpsRouter(health *HealthHandler, metricsHandler http.Handler) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	router.HandleFunc("/health/live", health.Live).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", health.Ready).Methods(http.MethodGet)

	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	return router
}

// OpsServer serves health probes and metrics on a separate port from the API
type OpsServer struct {
	router     *mux.Router
	httpServer *http.Server
	health     *HealthHandler
	logger     *zap.Logger
	config     OpsConfig
}

// NewOpsServer creates a new ops server
func NewOpsServer(cfg OpsConfig, health *HealthHandler, metricsHandler http.Handler, logger *zap.Logger) (*OpsServer, error) {
	if health == nil {
		return nil, fmt.Errorf("health handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	router := NewOpsRouter(health, metricsHandler)

	return &OpsServer{
		router: router,
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		health: health,
		logger: logger,
		config: cfg,
	}, nil
}

// Start starts the ops server. It returns nil after a graceful shutdown.
func (s *OpsServer) Start() error {
	lis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves the ops routes on an existing listener
func (s *OpsServer) Serve(lis net.Listener) error {
	s.logger.Info("Starting ops server", zap.String("addr", lis.Addr().String()))

	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown marks the service not ready and stops the ops server
func (s *OpsServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down ops server")
	s.health.SetReady(false)
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements http.Handler interface for testing
func (s *OpsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
