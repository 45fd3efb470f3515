// Command carechat runs the chat server and its maintenance tasks.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"carechat/internal/app"
	"carechat/internal/auth"
	"carechat/internal/config"
	"carechat/internal/users"
	"carechat/pkg/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "carechat",
		Short:        "Real-time one-to-one chat server",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file (JSON, YAML or TOML); defaults to $"+config.ConfigFileEnv)
	root.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().String("driver", config.DriverSQLite, "database driver (sqlite, postgres, memory)")
	root.PersistentFlags().String("db-path", "./data/carechat.db", "SQLite database file")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(usersCmd())
	root.AddCommand(tokenCmd())
	return root
}

// loadConfig resolves configuration for cmd and builds the root logger.
func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger, err := app.NewLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().String("host", "0.0.0.0", "listen host")
	cmd.Flags().Int("port", 8080, "listen port")
	return cmd
}

// runServer serves until ctx is cancelled, SIGINT/SIGTERM arrives or the
// HTTP server fails, then shuts down within the configured timeout.
func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down server...")
	case err, ok := <-application.Errors():
		if ok {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown failed")
		return errors.Join(serveErr, err)
	}
	return serveErr
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store, err := app.OpenStore(cmd.Context(), cfg.Database, logger)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			defer func() { _ = store.Close() }()

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully (driver %s).\n", store.Applied, store.Driver)
			return nil
		},
	}
}

// withDirectory opens the configured store and hands cmd a directory over it.
func withDirectory(cmd *cobra.Command, fn func(*config.Config, *users.Directory) error) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := app.OpenStore(cmd.Context(), cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return fn(cfg, users.NewDirectory(store, logger))
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the chat user directory",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a user who may chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetInt64("id")
			username, _ := cmd.Flags().GetString("username")
			first, _ := cmd.Flags().GetString("first-name")
			last, _ := cmd.Flags().GetString("last-name")

			user := &types.User{ID: types.ID(id), Username: username, FirstName: first, LastName: last}
			return withDirectory(cmd, func(_ *config.Config, dir *users.Directory) error {
				if err := dir.Create(cmd.Context(), user); err != nil {
					return fmt.Errorf("failed to add user: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added user %s (%s).\n", user.ID, user.DisplayName())
				return nil
			})
		},
	}
	addCmd.Flags().Int64("id", 0, "user id")
	addCmd.Flags().String("username", "", "unique username")
	addCmd.Flags().String("first-name", "", "first name")
	addCmd.Flags().String("last-name", "", "last name")
	_ = addCmd.MarkFlagRequired("id")
	_ = addCmd.MarkFlagRequired("username")
	cmd.AddCommand(addCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List directory users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd, func(_ *config.Config, dir *users.Directory) error {
				list, err := dir.List(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-10s %-20s %s\n", "ID", "USERNAME", "DISPLAY NAME")
				for _, u := range list {
					fmt.Fprintf(out, "%-10s %-20s %s\n", u.ID, u.Username, u.DisplayName())
				}
				return nil
			})
		},
	})

	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed access token for a directory user",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetInt64("user")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			return withDirectory(cmd, func(cfg *config.Config, dir *users.Directory) error {
				if cfg.Auth.Secret == "" {
					return fmt.Errorf("auth.secret is not configured")
				}
				if _, err := dir.Get(cmd.Context(), types.ID(userID)); err != nil {
					return fmt.Errorf("user %d: %w", userID, err)
				}

				tokens, err := auth.NewTokenManager(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
				if err != nil {
					return err
				}
				token, expires, err := tokens.Issue(types.ID(userID), ttl)
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), token)
				fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().Int64("user", 0, "user id")
	cmd.Flags().Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
