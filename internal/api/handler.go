// Package api exposes the query pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/insightql/insightql/internal/config"
	"github.com/insightql/insightql/internal/observability"
	"github.com/insightql/insightql/internal/pipeline"
	"github.com/insightql/insightql/internal/store"
	"github.com/insightql/insightql/internal/warehouse"
)

type ReadinessCheck func(ctx context.Context) error

// QueryPipeline is the pipeline surface the handlers call.
type QueryPipeline interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Response, error)
	ExecuteDirect(ctx context.Context, req pipeline.DirectRequest) (pipeline.Response, error)
}

// SchemaStore persists refreshed schema snapshots.
type SchemaStore interface {
	UpdateProjectSchema(ctx context.Context, projectID string, snapshot store.SchemaSnapshot) error
}

// HistoryStore reads the audit log for the history endpoint.
type HistoryStore interface {
	ListQueryAttempts(ctx context.Context, userID, projectID string, limit, offset int) ([]store.QueryAttempt, int, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Pipeline          QueryPipeline
	Warehouses        warehouse.Factory
	SchemaStore       SchemaStore
	History           HistoryStore
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/ask", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})
	mux.HandleFunc("POST /v1/execute-sql", func(w http.ResponseWriter, r *http.Request) {
		handleExecuteSQL(deps, w, r)
	})
	mux.HandleFunc("POST /v1/validate-sql", func(w http.ResponseWriter, r *http.Request) {
		handleValidateSQL(deps, w, r)
	})
	mux.HandleFunc("GET /v1/queries/history", func(w http.ResponseWriter, r *http.Request) {
		handleQueryHistory(deps, w, r)
	})
	mux.HandleFunc("POST /v1/projects/{project}/schema/refresh", func(w http.ResponseWriter, r *http.Request) {
		handleSchemaRefresh(deps, w, r)
	})
	mux.HandleFunc("POST /v1/projects/{project}/test-connection", func(w http.ResponseWriter, r *http.Request) {
		handleTestConnection(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckDatabaseDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Database.DSN == "" {
			return errors.New("database dsn is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func userFromRequest(r *http.Request) (string, error) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		return "", errors.New("X-User-ID header is required")
	}
	return userID, nil
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
