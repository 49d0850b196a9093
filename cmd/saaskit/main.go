package main

import (
	"context"
	"fmt"
	"os"

	"saaskit/internal/promptflow"
	"saaskit/internal/service"
	"saaskit/pkg/cache"
	"saaskit/pkg/config"
	"saaskit/pkg/database"
	"saaskit/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfg *config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "saaskit",
	Short: "Multi-tenant SaaS backend",
	Long: `saaskit serves the multi-tenant API: accounts and tenants, admin-defined
entities with tenant rows, the CRM, AI prompt flows, billing, portals,
marketing pages and analytics.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load configuration from .env file and environment variables
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Initialize logger with config
		logger.InitLogger(cfg)
		log = logger.GetLogger()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the dependencies shared by the commands
type app struct {
	db    *gorm.DB
	cache *cache.Cache
	svc   *service.Services
}

// openApp connects and migrates the database and builds the services
func openApp(ctx context.Context) (*app, error) {
	db, err := database.InitDB(&cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	log.Info("Database connection established", zap.String("driver", cfg.DB.Driver))

	if err := database.Migrate(db.WithContext(ctx)); err != nil {
		_ = database.Close(db)
		return nil, err
	}

	c := cache.New("app", cfg.Cache.DefaultTTL, cfg.Cache.CleanupInterval)

	var completer promptflow.Completer
	if cfg.AI.APIKey != "" {
		completer = promptflow.NewOpenAIClient(&cfg.AI)
		log.Info("AI completions enabled", zap.String("model", cfg.AI.DefaultModel))
	} else {
		log.Warn("OPENAI_API_KEY not set, prompt flow executions will fail")
	}

	return &app{
		db:    db,
		cache: c,
		svc:   service.New(db, cfg, c, completer),
	}, nil
}

func (a *app) Close() {
	a.cache.Close()
	if err := database.Close(a.db); err != nil {
		log.Error("Failed to close database", zap.Error(err))
	}
}
