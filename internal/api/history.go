package api

import (
	"net/http"
	"strconv"
	"strings"
)

func handleQueryHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "query history store is not configured", false, nil)
		return
	}
	userID, err := userFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "USER_REQUIRED", err.Error(), false, nil)
		return
	}

	projectID := strings.TrimSpace(r.URL.Query().Get("project_id"))
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be an integer", false, nil)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_OFFSET", "offset must be an integer", false, nil)
		return
	}

	attempts, total, err := deps.History.ListQueryAttempts(r.Context(), userID, projectID, limit, offset)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_FAILED", err.Error(), true, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total": total,
		"logs":  attempts,
	})
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
