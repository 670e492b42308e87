package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/authz-engine/tokenauth/internal/db"
	"github.com/authz-engine/tokenauth/internal/logging"
)

var migrateDBURL string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database schema migrations",
	Long: `Manages the PostgreSQL user directory schema. The database URL comes from
--db-url, or from the configuration file and TOKENAUTH_DATABASE_URL.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrations(cmd, (*db.MigrationRunner).Up)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back all migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrations(cmd, (*db.MigrationRunner).Down)
	},
}

var migrateStepsCmd = &cobra.Command{
	Use:   "steps N",
	Short: "Apply N migrations (negative N rolls back)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid step count %q: %w", args[0], err)
		}
		return withMigrations(cmd, func(r *db.MigrationRunner) error {
			return r.Steps(n)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrations(cmd, func(r *db.MigrationRunner) error {
			version, dirty, err := r.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
			return nil
		})
	},
}

var migrateForceCmd = &cobra.Command{
	Use:   "force VERSION",
	Short: "Set the schema version without running migrations",
	Long:  `Marks VERSION as applied and clears the dirty flag. Use after repairing a failed migration by hand.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		return withMigrations(cmd, func(r *db.MigrationRunner) error {
			return r.Force(version)
		})
	},
}

var migrateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the embedded migration files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := db.ListMigrations()
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		return nil
	},
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrateDBURL, "db-url", "", "PostgreSQL connection URL (skips loading the configuration file)")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStepsCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
	migrateCmd.AddCommand(migrateForceCmd)
	migrateCmd.AddCommand(migrateListCmd)
}

// withMigrations resolves the database URL and runs op against it
func withMigrations(cmd *cobra.Command, op func(*db.MigrationRunner) error) error {
	url := migrateDBURL
	logCfg := logging.DefaultConfig()
	logCfg.Format = "console"

	if url == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		url = cfg.Database.URL
		logCfg = cfg.Log
	}
	if url == "" {
		return fmt.Errorf("no database configured (set --db-url or database.url)")
	}

	logger, syncLogger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer syncLogger()

	if err := migrateDatabase(url, logger, op); err != nil {
		logger.Error("Migration command failed", zap.String("command", cmd.Name()), zap.Error(err))
		return err
	}
	return nil
}
