package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/authz-engine/tokenauth/internal/auth"
	"github.com/authz-engine/tokenauth/internal/config"
	"github.com/authz-engine/tokenauth/internal/logging"
)

var (
	usernameFlag string
	emailFlag    string
	rolesInput   []string
	grantRoles   []string
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users in the PostgreSQL directory",
}

var usersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user, reading the password from stdin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if usernameFlag == "" {
			return fmt.Errorf("--username flag is required")
		}

		password, err := readPassword(cmd)
		if err != nil {
			return err
		}

		return withDirectory(cmd, func(ctx context.Context, cfg *config.Config, dir userDirectory) error {
			roles := rolesInput
			if len(roles) == 0 {
				roles = cfg.Login.DefaultRoles
			}

			registrar := auth.NewRegistrar(dir, auth.NewBcryptPasswords(cfg.Login.BcryptCost), roles, nil, nil)
			p, err := registrar.Register(ctx, auth.Registration{
				Username: usernameFlag,
				Password: password,
				Email:    emailFlag,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created user %q (id %d, roles %v)\n", p.Username, p.ID, p.Roles)
			return nil
		})
	},
}

var usersDisableCmd = &cobra.Command{
	Use:   "disable USERNAME",
	Short: "Disable a user; their tokens stop authenticating immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDisabled(cmd, args[0], true)
	},
}

var usersEnableCmd = &cobra.Command{
	Use:   "enable USERNAME",
	Short: "Re-enable a disabled user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDisabled(cmd, args[0], false)
	},
}

var usersRolesCmd = &cobra.Command{
	Use:   "roles USERNAME",
	Short: "Replace a user's roles; outstanding tokens see the change on their next request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, role := range grantRoles {
			if strings.TrimSpace(role) == "" {
				return fmt.Errorf("--role must not be empty")
			}
		}

		username := args[0]
		return withDirectory(cmd, func(ctx context.Context, cfg *config.Config, dir userDirectory) error {
			if err := dir.SetRoles(ctx, username, grantRoles...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %q roles set to %v\n", username, grantRoles)
			return nil
		})
	},
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete USERNAME",
	Short: "Delete a user; their tokens stop authenticating immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]
		return withDirectory(cmd, func(ctx context.Context, cfg *config.Config, dir userDirectory) error {
			if err := dir.DeleteUser(ctx, username); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %q deleted\n", username)
			return nil
		})
	},
}

func init() {
	usersCreateCmd.Flags().StringVar(&usernameFlag, "username", "", "Username (required)")
	usersCreateCmd.Flags().StringVar(&emailFlag, "email", "", "Email address")
	usersCreateCmd.Flags().StringSliceVar(&rolesInput, "role", nil, "Role to assign (repeatable; defaults to login.default_roles)")

	usersCmd.AddCommand(usersCreateCmd)
	usersCmd.AddCommand(usersDisableCmd)
	usersCmd.AddCommand(usersEnableCmd)

	usersRolesCmd.Flags().StringSliceVar(&grantRoles, "role", nil, "Role to assign (repeatable; none clears all roles)")
	usersCmd.AddCommand(usersRolesCmd)
	usersCmd.AddCommand(usersDeleteCmd)
}

func setDisabled(cmd *cobra.Command, username string, disabled bool) error {
	return withDirectory(cmd, func(ctx context.Context, cfg *config.Config, dir userDirectory) error {
		if err := dir.SetDisabled(ctx, username, disabled); err != nil {
			return err
		}
		state := "enabled"
		if disabled {
			state = "disabled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user %q %s\n", username, state)
		return nil
	})
}

// withDirectory opens the configured PostgreSQL directory for an admin command
func withDirectory(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, dir userDirectory) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("user management requires database.url; the in-memory directory only lives inside a running server")
	}

	logger, syncLogger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer syncLogger()

	ctx := cmd.Context()
	dir, closeDir, err := openDirectory(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeDir()

	if err := fn(ctx, cfg, dir); err != nil {
		logger.Error("User command failed", zap.String("command", cmd.Name()), zap.Error(err))
		return err
	}
	return nil
}
