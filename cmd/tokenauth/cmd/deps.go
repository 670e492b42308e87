package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/authz-engine/tokenauth/internal/auth"
	"github.com/authz-engine/tokenauth/internal/config"
	"github.com/authz-engine/tokenauth/internal/db"
	"github.com/authz-engine/tokenauth/internal/directory"
	"github.com/authz-engine/tokenauth/internal/ratelimit"
)

const (
	// startupTimeout bounds assembling the service
	startupTimeout = 30 * time.Second

	// connectTimeout bounds the initial ping of each backing store
	connectTimeout = 5 * time.Second
)

// userDirectory is the directory surface the service and CLI need
type userDirectory interface {
	auth.UserStore
	SetDisabled(ctx context.Context, username string, disabled bool) error
	SetRoles(ctx context.Context, username string, roles ...string) error
	DeleteUser(ctx context.Context, username string) error
	Ping(ctx context.Context) error
}

// openDirectory returns the Postgres directory when a database URL is
// configured, otherwise an in-memory one. The returned func releases it.
func openDirectory(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (userDirectory, func(), error) {
	if cfg.URL == "" {
		logger.Warn("No database configured, using in-memory user directory; users are lost on restart")
		return directory.NewMemoryDirectory(), func() {}, nil
	}

	if cfg.AutoMigrate {
		if err := migrateDatabase(cfg.URL, logger, (*db.MigrationRunner).Up); err != nil {
			return nil, nil, err
		}
	}

	conn, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	dir, err := directory.NewPostgresDirectory(conn)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	logger.Info("Connected to PostgreSQL user directory",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)

	return dir, func() {
		if err := conn.Close(); err != nil {
			logger.Warn("Failed to close database", zap.Error(err))
		}
	}, nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	conn, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return conn, nil
}

// migrateDatabase runs op on a dedicated connection, since closing the
// migration runner also closes its database handle.
func migrateDatabase(url string, logger *zap.Logger, op func(*db.MigrationRunner) error) error {
	conn, err := sql.Open("postgres", url)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	runner, err := db.NewMigrationRunner(conn, logger)
	if err != nil {
		conn.Close()
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logger.Warn("Failed to close migration runner", zap.Error(err))
		}
	}()

	return op(runner)
}

// openLimiter returns the Redis login limiter when Redis is configured,
// otherwise a limiter that admits everything. The client is nil without Redis.
func openLimiter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ratelimit.Limiter, *redis.Client, error) {
	if cfg.Redis.Addr == "" {
		logger.Warn("No Redis configured, login throttling is disabled")
		return ratelimit.NewNoopLimiter(), nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if !cfg.Login.FailOpen {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Warn("Redis unreachable at startup, logins are admitted until it recovers",
			zap.String("addr", cfg.Redis.Addr),
			zap.Error(err),
		)
	}

	limiter, err := ratelimit.NewRedisLimiter(client, cfg.RateLimit(), logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	logger.Info("Login throttling enabled",
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.Int("max_attempts", cfg.Login.MaxAttempts),
		zap.Duration("window", cfg.Login.Window),
	)

	return limiter, client, nil
}
