package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/authz-engine/tokenauth/internal/api/rest"
	"github.com/authz-engine/tokenauth/internal/api/rpc"
	"github.com/authz-engine/tokenauth/internal/audit"
	"github.com/authz-engine/tokenauth/internal/auth"
	"github.com/authz-engine/tokenauth/internal/auth/jwt"
	"github.com/authz-engine/tokenauth/internal/config"
	"github.com/authz-engine/tokenauth/internal/metrics"
	"github.com/authz-engine/tokenauth/internal/ratelimit"
	"github.com/authz-engine/tokenauth/internal/server"
	"github.com/authz-engine/tokenauth/internal/server/middleware"
)

// app holds the assembled servers and the resources they share
type app struct {
	api    *rest.Server
	ops    *server.OpsServer
	health *server.HealthHandler
	grpc   *server.Server // nil when gRPC is disabled

	directory userDirectory
	limiter   ratelimit.Limiter
	auditor   audit.Logger
	logger    *zap.Logger
	cfg       *config.Config
	closers   []func()
}

// newApp wires the service from configuration
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	m := metrics.NewPrometheusMetrics(cfg.Metrics.Namespace)

	dir, closeDir, err := openDirectory(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a.directory = dir
	a.closers = append(a.closers, closeDir)

	limiter, redisClient, err := openLimiter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.limiter = limiter
	a.closers = append(a.closers, func() {
		if err := limiter.Close(); err != nil {
			logger.Warn("Failed to close login limiter", zap.Error(err))
		}
	})

	auditor, err := audit.NewLogger(cfg.Audit, logger.Named("audit"))
	if err != nil {
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}
	a.auditor = auditor
	a.closers = append(a.closers, func() {
		if err := auditor.Close(); err != nil {
			logger.Warn("Failed to close audit logger", zap.Error(err))
		}
	})

	codec, err := jwt.NewCodec(&jwt.Config{
		Secret:   cfg.JWT.Secret,
		Lifetime: cfg.JWT.Lifetime,
		Logger:   logger.Named("jwt"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}

	passwords := auth.NewBcryptPasswords(cfg.Login.BcryptCost)
	gate := auth.NewGate(codec, dir, logger.Named("gate"), m)

	a.api, err = rest.New(rest.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, rest.Dependencies{
		Verifier:  auth.NewCredentialVerifier(dir, passwords, logger.Named("login"), m),
		Registrar: auth.NewRegistrar(dir, passwords, cfg.Login.DefaultRoles, logger.Named("register"), m),
		Tokens:    codec,
		Gate:      gate,
		Directory: dir,
		Limiter:   limiter,
		Audit:     auditor,
		Metrics:   m,
		Logger:    logger.Named("api"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create API server: %w", err)
	}

	a.health = server.NewHealthHandler(logger.Named("health"))
	a.health.AddCheck("directory", dir.Ping)
	if redisClient != nil {
		a.health.AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	a.ops, err = server.NewOpsServer(server.OpsConfig{
		Addr:         cfg.Server.OpsAddr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, a.health, m.HTTPHandler(), logger.Named("ops"))
	if err != nil {
		return nil, fmt.Errorf("failed to create ops server: %w", err)
	}

	if cfg.GRPC.Addr != "" {
		grpcCfg := server.DefaultConfig()
		grpcCfg.Addr = cfg.GRPC.Addr
		grpcCfg.EnableReflection = cfg.GRPC.EnableReflection

		policies := server.DefaultPolicies()
		for method, req := range rpc.UserPolicies() {
			policies[method] = req
		}

		authenticator := middleware.NewAuthenticator(gate, policies, auth.Authenticated(), m, logger.Named("grpc"))
		a.grpc, err = server.New(grpcCfg, authenticator, logger.Named("grpc"))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC server: %w", err)
		}
		rpc.NewUserService(dir, logger.Named("rpc")).Register(a.grpc)
	}

	return a, nil
}

// run serves until ctx is cancelled or a server fails, then shuts everything down
func (a *app) run(ctx context.Context) error {
	servers := 2
	if a.grpc != nil {
		servers++
	}
	errChan := make(chan error, servers)

	a.auditor.Log(ctx, &audit.Event{EventType: audit.EventTypeSystemStartup})

	go func() {
		if err := a.api.Start(); err != nil {
			errChan <- fmt.Errorf("API server: %w", err)
		}
	}()
	go func() {
		if err := a.ops.Start(); err != nil {
			errChan <- fmt.Errorf("ops server: %w", err)
		}
	}()
	if a.grpc != nil {
		go func() {
			if err := a.grpc.Start(); err != nil {
				errChan <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case runErr = <-errChan:
		a.logger.Error("Server error", zap.Error(runErr))
	case <-ctx.Done():
		a.logger.Info("Received shutdown signal")
	}

	return errors.Join(runErr, a.shutdown())
}

// shutdown stops accepting traffic, drains in-flight requests and releases resources
func (a *app) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	// Mark as not ready to stop accepting new requests
	a.health.SetReady(false)
	if a.grpc != nil {
		a.grpc.SetServing(false)
	}
	a.auditor.Log(ctx, &audit.Event{EventType: audit.EventTypeSystemShutdown})

	var errs []error
	if err := a.api.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("API server shutdown: %w", err))
	}
	if a.grpc != nil {
		stopped := make(chan struct{})
		go func() {
			a.grpc.Stop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			a.grpc.GRPCServer().Stop()
		}
	}
	if err := a.ops.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("ops server shutdown: %w", err))
	}

	a.close()
	return errors.Join(errs...)
}

// close releases resources in reverse order of acquisition
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
