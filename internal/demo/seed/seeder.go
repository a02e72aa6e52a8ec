// Package seed loads a self-contained sample dataset: parquet tables in
// object storage plus the matching project row and starter prompt rules
// in Postgres. It exists so a fresh deployment can answer questions
// without any external warehouse.
package seed

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/parquet-go/parquet-go"

	"github.com/insightql/insightql/internal/storage"
	"github.com/insightql/insightql/internal/storage/s3"
)

type Service struct {
	cfg     Config
	logger  *slog.Logger
	objects storage.ObjectStore
	db      *sql.DB
}

// NewService builds a seeder. objects may be nil, in which case the
// object store client is built from the config.
func NewService(cfg Config, logger *slog.Logger, objects storage.ObjectStore, db *sql.DB) (*Service, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if objects == nil {
		store, err := s3.New(s3.Config{
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			Bucket:          cfg.Bucket,
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
			UseSSL:          cfg.UseSSL,
			Prefix:          cfg.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("build object store: %w", err)
		}
		objects = store
	}
	return &Service{cfg: cfg, logger: logger, objects: objects, db: db}, nil
}

func (s *Service) Run(ctx context.Context) error {
	gen := NewGenerator(s.cfg.Seed)
	customers := gen.Customers(s.cfg.CustomerCount)
	orders := gen.Orders(s.cfg.OrderCount, s.cfg.CustomerCount)

	if err := putTable(ctx, s.objects, s.cfg, "customers", customers); err != nil {
		return err
	}
	if err := putTable(ctx, s.objects, s.cfg, "orders", orders); err != nil {
		return err
	}
	s.logger.Info(
		"sample tables written",
		slog.String("dataset", s.cfg.Dataset),
		slog.Int("customers", len(customers)),
		slog.Int("orders", len(orders)),
	)

	if err := s.upsertProject(ctx); err != nil {
		return err
	}
	if err := s.seedPromptRules(ctx); err != nil {
		return err
	}
	s.logger.Info("project registered", slog.String("project_id", s.cfg.ProjectID))
	return nil
}

func putTable[T any](ctx context.Context, objects storage.ObjectStore, cfg Config, table string, rows []T) error {
	data, err := encodeParquet(rows)
	if err != nil {
		return fmt.Errorf("encode %s: %w", table, err)
	}
	key, err := storage.TableDataFilePath(cfg.WarehouseProject, cfg.Dataset, table, 0)
	if err != nil {
		return err
	}
	opts := storage.PutOptions{ContentType: "application/vnd.apache.parquet"}
	if _, err := objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func encodeParquet[T any](rows []T) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) upsertProject(ctx context.Context) error {
	credentials, err := json.Marshal(map[string]any{
		"endpoint":   s.cfg.Endpoint,
		"region":     s.cfg.Region,
		"bucket":     s.cfg.Bucket,
		"access_key": s.cfg.AccessKey,
		"secret_key": s.cfg.SecretKey,
		"use_ssl":    s.cfg.UseSSL,
		"prefix":     s.cfg.Prefix,
	})
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	const query = `
		INSERT INTO projects (id, name, warehouse_project, warehouse_dataset, credentials)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			warehouse_project = EXCLUDED.warehouse_project,
			warehouse_dataset = EXCLUDED.warehouse_dataset,
			credentials = EXCLUDED.credentials`
	if _, err := s.db.ExecContext(ctx, query,
		s.cfg.ProjectID, s.cfg.ProjectName, s.cfg.WarehouseProject, s.cfg.Dataset, credentials,
	); err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	return nil
}

// seedPromptRules installs a small starter rule set. Existing rows win;
// operators tune these after the first run.
func (s *Service) seedPromptRules(ctx context.Context) error {
	const globalQuery = `
		INSERT INTO global_instructions (id, instruction_text, category, priority)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`
	globals := []struct {
		id       string
		text     string
		category string
		priority int
	}{
		{"seed-limit", "Always use LIMIT clause for safety", "safety", 0},
		{"seed-no-mutation", "Never use DROP, DELETE, or UPDATE statements", "safety", 1},
		{"seed-dialect", "Use DuckDB standard SQL syntax", "dialect", 2},
	}
	for _, rule := range globals {
		if _, err := s.db.ExecContext(ctx, globalQuery, rule.id, rule.text, rule.category, rule.priority); err != nil {
			return fmt.Errorf("seed global instruction %s: %w", rule.id, err)
		}
	}

	const memoryQuery = `
		INSERT INTO project_memory (id, project_id, memory_type, key, content)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, memoryQuery,
		"seed-revenue", s.cfg.ProjectID, "definition", "revenue",
		"Revenue is the sum of orders.total where status is paid or shipped",
	); err != nil {
		return fmt.Errorf("seed project memory: %w", err)
	}
	return nil
}
