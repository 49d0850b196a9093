package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"saaskit/internal/router"
	"saaskit/internal/seed"
	"saaskit/pkg/jwtutil"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log.Info("Starting saaskit...", cfg.LogConfig()...)

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		// Plans and CRM entities are created on startup when missing
		if _, err := seed.Run(ctx, a.svc, seed.Options{}); err != nil {
			return err
		}

		j := jwtutil.NewJWTUtil(&cfg.JWT)
		e := router.New(cfg, log, a.svc, j)

		errCh := make(chan error, 1)
		go func() {
			log.Info("Starting server", zap.String("port", cfg.Server.Port))
			if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		log.Info("Server stopped")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		log.Info("Database migrated")
		return nil
	},
}

var seedOpts seed.Options

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed plans, CRM entities, custom entities and an admin user",
	Example: `  saaskit seed
  saaskit seed --file entities.yaml
  saaskit seed --admin-email admin@example.com --admin-password changeme123`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := seed.Run(cmd.Context(), a.svc, seedOpts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "entities created: %d\n", len(report.Entities))
		if report.AdminID != 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "admin user: %s (id %d)\n", seedOpts.AdminEmail, report.AdminID)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "time allowed for in-flight requests on shutdown")

	seedCmd.Flags().StringVarP(&seedOpts.EntitiesFile, "file", "f", "", "YAML file of entity definitions")
	seedCmd.Flags().StringVar(&seedOpts.AdminEmail, "admin-email", "", "email of the platform admin to create or promote")
	seedCmd.Flags().StringVar(&seedOpts.AdminPassword, "admin-password", "", "password of the platform admin")
	seedCmd.MarkFlagsRequiredTogether("admin-email", "admin-password")
}
