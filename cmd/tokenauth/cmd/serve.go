package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/authz-engine/tokenauth/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the token authentication service",
	Long: `Starts the HTTP API, the ops server (health and metrics) and, when
grpc.addr is configured, the gRPC server. Shuts down gracefully on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger, syncLogger, err := logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer syncLogger()

		if cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}

		logger.Info("Starting token authentication service",
			zap.String("version", Version),
			zap.String("api_addr", cfg.Server.Addr),
			zap.String("ops_addr", cfg.Server.OpsAddr),
			zap.String("grpc_addr", cfg.GRPC.Addr),
		)
		logger.Debug("Effective configuration", zap.String("config", cfg.String()))

		startCtx, cancel := context.WithTimeout(cmd.Context(), startupTimeout)
		a, err := newApp(startCtx, cfg, logger)
		cancel()
		if err != nil {
			logger.Error("Failed to start", zap.Error(err))
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := a.run(ctx); err != nil {
			return err
		}

		logger.Info("Server stopped successfully")
		return nil
	},
}
