// Package warehouse defines the execution surface for the analytical
// backend: run a statement, introspect the dataset schema, probe
// connectivity, and cost-validate without executing.
package warehouse

import (
	"context"
	"errors"
	"time"

	"github.com/insightql/insightql/internal/store"
)

// ErrNotConfigured indicates a project has no usable warehouse
// connection (missing dataset identifiers or credentials).
var ErrNotConfigured = errors.New("warehouse connection is not configured")

// ColumnMeta describes one result column in output order.
type ColumnMeta struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Result is a fully materialized query result. Rows keep the order the
// warehouse returned them in.
type Result struct {
	Rows            []map[string]any `json:"rows"`
	Columns         []ColumnMeta     `json:"schema"`
	RowCount        int              `json:"rows_returned"`
	ExecutionTimeMs int64            `json:"execution_time_ms"`
	BytesProcessed  int64            `json:"bytes_processed"`
}

// DryRunResult reports compile-only validation of a statement.
type DryRunResult struct {
	Valid          bool   `json:"valid"`
	Error          string `json:"error,omitempty"`
	EstimatedBytes int64  `json:"estimated_bytes"`
}

// Executor runs statements for one project. Implementations resolve the
// project's warehouse credentials lazily on first use and reuse the
// resulting client for the executor's lifetime. Executors are request
// scoped and must not be shared across invocations.
type Executor interface {
	Execute(ctx context.Context, sql string, timeout time.Duration) (Result, error)
	IntrospectSchema(ctx context.Context) (store.SchemaSnapshot, error)
	TestConnection(ctx context.Context) bool
	DryRunValidate(ctx context.Context, sql string) (DryRunResult, error)
	Close() error
}

// Factory creates a request-scoped Executor for a project.
type Factory interface {
	ExecutorFor(ctx context.Context, projectID string) (Executor, error)
}
