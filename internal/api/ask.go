package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/insightql/insightql/internal/pipeline"
	"github.com/insightql/insightql/internal/safety"
)

type askRequest struct {
	Question       string `json:"question"`
	ProjectID      string `json:"project_id"`
	ConversationID string `json:"conversation_id"`
	Model          string `json:"model"`
}

type executeSQLRequest struct {
	SQL            string `json:"sql"`
	ProjectID      string `json:"project_id"`
	ConversationID string `json:"conversation_id"`
}

type validateSQLRequest struct {
	SQL       string `json:"sql"`
	ProjectID string `json:"project_id"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	userID, err := userFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "USER_REQUIRED", err.Error(), false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	if strings.TrimSpace(request.ProjectID) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROJECT_REQUIRED", "project_id is required", false, nil)
		return
	}

	response, err := deps.Pipeline.Process(r.Context(), pipeline.Request{
		Question:       request.Question,
		ProjectID:      request.ProjectID,
		UserID:         userID,
		ConversationID: request.ConversationID,
		Model:          request.Model,
	})
	if err != nil {
		writePipelineError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func handleExecuteSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	userID, err := userFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "USER_REQUIRED", err.Error(), false, nil)
		return
	}

	var request executeSQLRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid execute request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if strings.TrimSpace(request.ProjectID) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROJECT_REQUIRED", "project_id is required", false, nil)
		return
	}

	response, err := deps.Pipeline.ExecuteDirect(r.Context(), pipeline.DirectRequest{
		SQL:            request.SQL,
		ProjectID:      request.ProjectID,
		UserID:         userID,
		ConversationID: request.ConversationID,
	})
	if err != nil {
		writePipelineError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func handleValidateSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Warehouses == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "WAREHOUSE_NOT_CONFIGURED", "warehouse is not configured", false, nil)
		return
	}

	var request validateSQLRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid validate request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if strings.TrimSpace(request.ProjectID) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROJECT_REQUIRED", "project_id is required", false, nil)
		return
	}

	if keyword, ok := safety.Check(request.SQL); !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"valid": false,
			"error": "statement contains restricted keyword " + keyword,
		})
		return
	}

	executor, err := deps.Warehouses.ExecutorFor(r.Context(), request.ProjectID)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "PROJECT_NOT_CONFIGURED", err.Error(), false, nil)
		return
	}
	defer func() { _ = executor.Close() }()

	result, err := executor.DryRunValidate(r.Context(), request.SQL)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "DRY_RUN_FAILED", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writePipelineError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error) {
	var pipeErr *pipeline.Error
	if errors.As(err, &pipeErr) && pipeErr.Kind == pipeline.ErrorKindPersistence {
		writeError(r.Context(), w, http.StatusInternalServerError, "PERSISTENCE_FAILURE", pipeErr.Message, true, nil)
		return
	}
	if deps.Logger != nil {
		deps.Logger.Error("pipeline invocation failed", "error", err)
	}
	writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", err.Error(), true, nil)
}
