package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/insightql/insightql/internal/config"
	"github.com/insightql/insightql/internal/demo/seed"
	storepostgres "github.com/insightql/insightql/internal/store/postgres"
)

func main() {
	cfg, err := config.LoadFromEnv("insightql-seed")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	seedCfg, err := seed.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load seed config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storepostgres.Open(ctx, storepostgres.DBConfig{DSN: cfg.Database.DSN})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	service, err := seed.NewService(seedCfg, logger, nil, db)
	if err != nil {
		logger.Error("failed to initialize seeder", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info(
		"seeding sample dataset",
		slog.String("project_id", seedCfg.ProjectID),
		slog.String("warehouse_project", seedCfg.WarehouseProject),
		slog.String("dataset", seedCfg.Dataset),
		slog.String("bucket", seedCfg.Bucket),
	)

	if err := service.Run(ctx); err != nil {
		logger.Error("seed failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("seed complete")
}
