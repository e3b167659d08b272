package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quiby-ai/review-search/config"
	"github.com/quiby-ai/review-search/internal/storage"
)

var (
	configPath string
	debug      bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:           "reviewsearch",
		Short:         "Multilingual review search over star-stratified samples",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.toml (default ./config.toml or /config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	rootCmd.AddCommand(
		newDownloadCmd(),
		newReduceCmd(),
		newIngestCmd(),
		newSearchCmd(),
		newServeCmd(),
		newConsumeCmd(),
	)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads the configuration and installs the default logger.
func setup() (*config.Config, *slog.Logger, error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	return cfg, logger, nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Repository, error) {
	logger.Info("Connecting to database and initializing tables...")
	repo, err := storage.NewPostgresRepository(ctx, cfg.Postgres.DSN, cfg.Postgres.Table, cfg.Vectorizer.MaxVectorLength)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	logger.Info("Database connection established and tables initialized successfully")

	stats, err := repo.GetTableStats(ctx)
	if err != nil {
		logger.Warn("Failed to get table stats", "error", err)
	} else {
		logger.Info("Table statistics", "stats", stats)
	}

	return repo, nil
}
