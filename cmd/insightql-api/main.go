package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/insightql/insightql/internal/api"
	"github.com/insightql/insightql/internal/config"
	"github.com/insightql/insightql/internal/generate"
	"github.com/insightql/insightql/internal/llm"
	"github.com/insightql/insightql/internal/observability"
	"github.com/insightql/insightql/internal/pipeline"
	"github.com/insightql/insightql/internal/promptctx"
	storepostgres "github.com/insightql/insightql/internal/store/postgres"
	warehouseduckdb "github.com/insightql/insightql/internal/warehouse/duckdb"
)

func main() {
	cfg, err := config.LoadFromEnv("insightql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	db, err := storepostgres.Open(context.Background(), storepostgres.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	appStore := storepostgres.NewStore(db)

	var openAI, anthropic llm.Client
	if cfg.LLM.OpenAIAPIKey != "" {
		client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:     cfg.LLM.OpenAIBaseURL,
			APIKey:      cfg.LLM.OpenAIAPIKey,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize openai client", slog.Any("error", err))
			os.Exit(1)
		}
		openAI = client
	}
	if cfg.LLM.AnthropicAPIKey != "" {
		client, err := llm.NewAnthropicClient(llm.AnthropicConfig{
			BaseURL:     cfg.LLM.AnthropicBaseURL,
			APIKey:      cfg.LLM.AnthropicAPIKey,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize anthropic client", slog.Any("error", err))
			os.Exit(1)
		}
		anthropic = client
	}
	registry := llm.NewRegistry(openAI, anthropic)

	warehouses := warehouseduckdb.NewFactory(appStore, warehouseduckdb.Config{
		IntrospectionWorkers: cfg.Pipeline.IntrospectionWorkers,
		ProbeTimeout:         cfg.Pipeline.ConnectionProbeTimeout,
	})

	queryPipeline, err := pipeline.New(pipeline.Dependencies{
		Store:      appStore,
		Assembler:  promptctx.NewAssembler(appStore),
		Generator:  generate.NewGenerator(registry),
		Warehouses: warehouses,
		Logger:     logger,
	}, pipeline.Config{
		DefaultModel:     cfg.LLM.DefaultModel,
		ExecutionTimeout: cfg.Pipeline.ExecutionTimeout,
	})
	if err != nil {
		logger.Error("failed to build query pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:      logger,
		Pipeline:    queryPipeline,
		Warehouses:  warehouses,
		SchemaStore: appStore,
		History:     appStore,
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabaseDSN(cfg),
			appStore.HealthCheck,
		),
		DependencyTimeout: time.Second,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
