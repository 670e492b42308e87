// Package rest provides the REST API server implementation
package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/authz-engine/tokenauth/internal/audit"
	"github.com/authz-engine/tokenauth/internal/auth"
	"github.com/authz-engine/tokenauth/internal/metrics"
	"github.com/authz-engine/tokenauth/internal/ratelimit"
)

// Config configures the REST API server
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns default REST server configuration
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Dependencies are the collaborators the API is built from
type Dependencies struct {
	Verifier  Authenticator
	Registrar Registerer
	Tokens    TokenIssuer
	Gate      *auth.Gate
	Directory auth.Directory

	// Limiter throttles logins. Nil disables throttling.
	Limiter ratelimit.Limiter

	// Audit records login and registration events. Nil disables auditing.
	Audit   audit.Logger
	Metrics metrics.Metrics
	Logger  *zap.Logger
}

// route binds a handler to a path together with its access requirement
type route struct {
	method      string
	path        string
	requirement auth.Requirement
	handler     gin.HandlerFunc
}

// Server is the REST API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger
	config     Config
}

// New creates a new REST API server
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Verifier == nil || deps.Registrar == nil || deps.Tokens == nil {
		return nil, fmt.Errorf("verifier, registrar and tokens are required")
	}
	if deps.Gate == nil || deps.Directory == nil {
		return nil, fmt.Errorf("gate and directory are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoOpMetrics()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewNoopLimiter()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewNoopLogger()
	}

	authHandler := NewAuthHandler(deps.Verifier, deps.Registrar, deps.Tokens, deps.Limiter, deps.Audit, deps.Metrics, deps.Logger)
	userHandler := NewUserHandler(deps.Directory, deps.Logger)

	routes := []route{
		{http.MethodPost, "/api/register", auth.Public(), authHandler.Register},
		{http.MethodPost, "/api/login", auth.Public(), authHandler.Login},
		{http.MethodGet, "/api/me", auth.Authenticated(), userHandler.Me},
		{http.MethodGet, "/users/:name", auth.AnyRole("USER"), userHandler.GetUser},
	}

	router := gin.New()
	router.Use(
		requestID(),
		requestLogger(deps.Logger),
		recovery(deps.Logger),
		authenticate(deps.Gate),
	)

	for _, rt := range routes {
		router.Handle(rt.method, rt.path, requireRoles(rt.requirement, deps.Metrics), rt.handler)
		deps.Logger.Debug("Route registered",
			zap.String("method", rt.method),
			zap.String("path", rt.path),
			zap.Stringer("requirement", rt.requirement),
		)
	}

	router.NoRoute(func(c *gin.Context) {
		abortWithError(c, http.StatusNotFound, codeNotFound, "resource not found")
	})

	s := &Server{
		router: router,
		logger: deps.Logger,
		config: cfg,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s, nil
}

// Start starts the REST API server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves the API on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("Starting REST API server", zap.String("addr", lis.Addr().String()))

	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the REST API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements http.Handler interface for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
