package server

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/authz-engine/tokenauth/internal/auth"
	"github.com/authz-engine/tokenauth/internal/server/middleware"
)

// Full method names of the built-in services, which are reachable without a token
const (
	healthCheckMethod       = "/grpc.health.v1.Health/Check"
	healthWatchMethod       = "/grpc.health.v1.Health/Watch"
	healthListMethod        = "/grpc.health.v1.Health/List"
	reflectionMethod        = "/grpc.reflection.v1.ServerReflection/ServerReflectionInfo"
	reflectionV1AlphaMethod = "/grpc.reflection.v1alpha.ServerReflection/ServerReflectionInfo"
)

// Server hosts gRPC services behind the authentication interceptors
type Server struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	logger       *zap.Logger
	config       Config
}

// Config configures the gRPC server
type Config struct {
	// Addr is the TCP address to listen on
	Addr string
	// MaxConcurrentStreams limits concurrent streams per connection
	MaxConcurrentStreams uint32
	// MaxRecvMsgSize is the maximum message size in bytes
	MaxRecvMsgSize int
	// MaxSendMsgSize is the maximum message size in bytes
	MaxSendMsgSize int
	// ConnectionTimeout is the timeout for establishing connections
	ConnectionTimeout time.Duration
	// KeepaliveTime is the interval for keepalive pings
	KeepaliveTime time.Duration
	// KeepaliveTimeout is the timeout for keepalive responses
	KeepaliveTimeout time.Duration
	// EnableReflection enables gRPC reflection for debugging
	EnableReflection bool
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:                 ":50051",
		MaxConcurrentStreams: 1000,
		MaxRecvMsgSize:       4 * 1024 * 1024, // 4MB
		MaxSendMsgSize:       4 * 1024 * 1024, // 4MB
		ConnectionTimeout:    30 * time.Second,
		KeepaliveTime:        30 * time.Second,
		KeepaliveTimeout:     10 * time.Second,
	}
}

// DefaultPolicies returns the requirements of the built-in health and
// reflection services. Hosts merge their own per-method policies on top.
func DefaultPolicies() map[string]auth.Requirement {
	return map[string]auth.Requirement{
		healthCheckMethod:       auth.Public(),
		healthWatchMethod:       auth.Public(),
		healthListMethod:        auth.Public(),
		reflectionMethod:        auth.Public(),
		reflectionV1AlphaMethod: auth.Public(),
	}
}

// New creates a new gRPC server. Every call passes through recovery, logging
// and then the authenticator.
func New(cfg Config, authenticator *middleware.Authenticator, logger *zap.Logger) (*Server, error) {
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	loggingInterceptor := NewLoggingInterceptor(logger)
	recoveryInterceptor := NewRecoveryInterceptor(logger)

	opts := []grpc.ServerOption{
		grpc.MaxConcurrentStreams(cfg.MaxConcurrentStreams),
		grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(cfg.MaxSendMsgSize),
		grpc.ConnectionTimeout(cfg.ConnectionTimeout),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			recoveryInterceptor.Unary(),
			loggingInterceptor.Unary(),
			authenticator.GRPCUnaryInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			recoveryInterceptor.Stream(),
			loggingInterceptor.Stream(),
			authenticator.GRPCStreamInterceptor(),
		),
	}

	grpcServer := grpc.NewServer(opts...)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	if cfg.EnableReflection {
		reflection.Register(grpcServer)
	}

	return &Server{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		logger:       logger,
		config:       cfg,
	}, nil
}

// RegisterService registers an application service. It must be called before Serve.
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	s.grpcServer.RegisterService(desc, impl)
	s.healthServer.SetServingStatus(desc.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
}

// SetServing updates the overall health status reported to clients
func (s *Server) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", status)
}

// Start starts the gRPC server
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves gRPC on an existing listener. It returns nil after Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("Starting gRPC server",
		zap.String("addr", lis.Addr().String()),
		zap.Bool("reflection", s.config.EnableReflection),
	)

	return s.grpcServer.Serve(lis)
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop() {
	s.logger.Info("Stopping gRPC server")
	s.healthServer.Shutdown()
	s.grpcServer.GracefulStop()
}

// GRPCServer returns the underlying gRPC server
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpcServer
}
