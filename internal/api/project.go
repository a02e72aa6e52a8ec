package api

import (
	"net/http"
	"strings"
	"time"
)

func handleSchemaRefresh(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Warehouses == nil || deps.SchemaStore == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_REFRESH_NOT_CONFIGURED", "schema refresh dependencies are not configured", false, nil)
		return
	}
	projectID := strings.TrimSpace(r.PathValue("project"))
	if projectID == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROJECT_REQUIRED", "project path segment is required", false, nil)
		return
	}

	executor, err := deps.Warehouses.ExecutorFor(r.Context(), projectID)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "PROJECT_NOT_CONFIGURED", err.Error(), false, nil)
		return
	}
	defer func() { _ = executor.Close() }()

	snapshot, err := executor.IntrospectSchema(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "INTROSPECTION_FAILED", err.Error(), true, nil)
		return
	}
	if err := deps.SchemaStore.UpdateProjectSchema(r.Context(), projectID, snapshot); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_PERSIST_FAILED", err.Error(), true, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"tables":     len(snapshot),
		"schema":     snapshot,
		"updated_at": time.Now().UTC(),
	})
}

func handleTestConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Warehouses == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "WAREHOUSE_NOT_CONFIGURED", "warehouse is not configured", false, nil)
		return
	}
	projectID := strings.TrimSpace(r.PathValue("project"))
	if projectID == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROJECT_REQUIRED", "project path segment is required", false, nil)
		return
	}

	executor, err := deps.Warehouses.ExecutorFor(r.Context(), projectID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"project_id": projectID, "connected": false})
		return
	}
	defer func() { _ = executor.Close() }()

	connected := executor.TestConnection(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"project_id": projectID, "connected": connected})
}
