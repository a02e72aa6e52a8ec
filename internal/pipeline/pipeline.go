// Package pipeline orchestrates one question through context assembly,
// SQL generation, the safety gate, warehouse execution, and result
// interpretation. Every invocation writes exactly one audit record,
// whether it succeeds or fails.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/insightql/insightql/internal/generate"
	"github.com/insightql/insightql/internal/insight"
	"github.com/insightql/insightql/internal/observability"
	"github.com/insightql/insightql/internal/promptctx"
	"github.com/insightql/insightql/internal/safety"
	"github.com/insightql/insightql/internal/store"
	"github.com/insightql/insightql/internal/warehouse"
)

const conversationTitleLimit = 100

// ContextAssembler builds the prompt blocks for a project/conversation.
type ContextAssembler interface {
	Assemble(ctx context.Context, project store.Project, conversationID string) (promptctx.Context, error)
}

// SQLGenerator produces one SQL statement from an assembled context.
type SQLGenerator interface {
	Generate(ctx context.Context, pc promptctx.Context, question, model string) (generate.Result, error)
}

type Config struct {
	DefaultModel     string
	ExecutionTimeout time.Duration
}

type Dependencies struct {
	Store      store.Store
	Assembler  ContextAssembler
	Generator  SQLGenerator
	Warehouses warehouse.Factory
	Logger     *slog.Logger
}

// Request is one natural-language question.
type Request struct {
	Question       string
	ProjectID      string
	UserID         string
	ConversationID string
	Model          string
}

// DirectRequest carries caller-supplied SQL, skipping generation.
type DirectRequest struct {
	SQL            string
	ProjectID      string
	UserID         string
	ConversationID string
}

// ErrorInfo is the structured failure surfaced to callers.
type ErrorInfo struct {
	Type    ErrorKind `json:"type"`
	Message string    `json:"message"`
}

// Response is the pipeline's public result shape.
type Response struct {
	QueryID          string                   `json:"query_id"`
	SQL              string                   `json:"sql,omitempty"`
	Result           *warehouse.Result        `json:"result,omitempty"`
	Insights         string                   `json:"insights,omitempty"`
	SuggestedChart   *insight.ChartSuggestion `json:"suggested_chart,omitempty"`
	TokensUsed       int                      `json:"tokens_used"`
	GenerationTimeMs int64                    `json:"generation_time_ms"`
	TotalTimeMs      int64                    `json:"total_time_ms"`
	Error            *ErrorInfo               `json:"error,omitempty"`
}

type Pipeline struct {
	deps Dependencies
	cfg  Config
}

func New(deps Dependencies, cfg Config) (*Pipeline, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Assembler == nil {
		return nil, fmt.Errorf("assembler is required")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if deps.Warehouses == nil {
		return nil, fmt.Errorf("warehouse factory is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 60 * time.Second
	}
	return &Pipeline{deps: deps, cfg: cfg}, nil
}

// Process runs the full question pipeline. Generation, safety,
// configuration, and execution failures come back inside the Response;
// only an audit write failure is returned as an error.
func (p *Pipeline) Process(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.cfg.DefaultModel
	}

	attempt := store.QueryAttempt{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		Question:  req.Question,
		Model:     model,
	}
	if strings.TrimSpace(req.ConversationID) != "" {
		conversationID := req.ConversationID
		attempt.ConversationID = &conversationID
	}
	resp := Response{QueryID: attempt.ID}

	pipeErr := p.runQuestion(ctx, req, model, &attempt, &resp)
	return p.finalize(ctx, start, &attempt, resp, pipeErr)
}

// ExecuteDirect runs caller-supplied SQL through the safety gate and
// warehouse, skipping context assembly and generation.
func (p *Pipeline) ExecuteDirect(ctx context.Context, req DirectRequest) (Response, error) {
	start := time.Now()
	attempt := store.QueryAttempt{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		Question:  req.SQL,
		Model:     "direct",
	}
	if strings.TrimSpace(req.ConversationID) != "" {
		conversationID := req.ConversationID
		attempt.ConversationID = &conversationID
	}
	sqlText := req.SQL
	attempt.GeneratedSQL = &sqlText
	resp := Response{QueryID: attempt.ID, SQL: req.SQL}

	pipeErr := p.runDirect(ctx, req, &attempt, &resp)
	return p.finalize(ctx, start, &attempt, resp, pipeErr)
}

// finalize closes out the attempt and writes the single audit record.
// Every entry point must pass through here exactly once.
func (p *Pipeline) finalize(ctx context.Context, start time.Time, attempt *store.QueryAttempt, resp Response, pipeErr *Error) (Response, error) {
	if pipeErr != nil {
		attempt.ExecutionStatus = store.ExecutionStatusFailed
		errType := string(pipeErr.Kind)
		attempt.ErrorType = &errType
		message := pipeErr.Message
		attempt.ErrorMessage = &message
		resp.Error = &ErrorInfo{Type: pipeErr.Kind, Message: pipeErr.Message}
		p.deps.Logger.Warn("query attempt failed",
			"query_id", attempt.ID,
			"project_id", attempt.ProjectID,
			"error_type", errType,
			"error", pipeErr.Message,
		)
	} else {
		attempt.ExecutionStatus = store.ExecutionStatusSuccess
	}
	resp.TotalTimeMs = time.Since(start).Milliseconds()
	observability.ObserveQueryAttempt(string(attempt.ExecutionStatus))

	if err := p.deps.Store.UpsertQueryAttempt(ctx, *attempt); err != nil {
		persistErr := newError(ErrorKindPersistence, fmt.Errorf("persist query attempt: %w", err))
		p.deps.Logger.Error("audit record write failed", "query_id", attempt.ID, "error", err)
		return resp, persistErr
	}

	if pipeErr == nil {
		p.deps.Logger.Info("query attempt succeeded",
			"query_id", attempt.ID,
			"project_id", attempt.ProjectID,
			"total_time_ms", resp.TotalTimeMs,
		)
	}
	return resp, nil
}

func (p *Pipeline) runQuestion(ctx context.Context, req Request, model string, attempt *store.QueryAttempt, resp *Response) *Error {
	project, err := p.deps.Store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return newError(ErrorKindConfiguration, fmt.Errorf("resolve project %q: %w", req.ProjectID, err))
	}

	promptContext, err := p.deps.Assembler.Assemble(ctx, project, req.ConversationID)
	if err != nil {
		return newError(ErrorKindGeneration, err)
	}

	generated, err := p.deps.Generator.Generate(ctx, promptContext, req.Question, model)
	if err != nil {
		return newError(ErrorKindGeneration, err)
	}
	attempt.GeneratedSQL = &generated.SQL
	attempt.GenerationTimeMs = &generated.GenerationTimeMs
	attempt.GenerationTokens = &generated.TokensUsed
	resp.SQL = generated.SQL
	resp.TokensUsed = generated.TokensUsed
	resp.GenerationTimeMs = generated.GenerationTimeMs
	observability.ObserveSQLGeneration(time.Duration(generated.GenerationTimeMs) * time.Millisecond)

	if pipeErr := checkSafety(generated.SQL); pipeErr != nil {
		return pipeErr
	}

	result, pipeErr := p.execute(ctx, req.ProjectID, generated.SQL, attempt)
	if pipeErr != nil {
		return pipeErr
	}
	resp.Result = result
	resp.Insights = insight.Summarize(*result)
	resp.SuggestedChart = insight.SuggestChart(*result)

	p.appendConversation(ctx, req.ConversationID, req.Question, generated.SQL, generated.TokensUsed)
	return nil
}

func (p *Pipeline) runDirect(ctx context.Context, req DirectRequest, attempt *store.QueryAttempt, resp *Response) *Error {
	if pipeErr := checkSafety(req.SQL); pipeErr != nil {
		return pipeErr
	}
	result, pipeErr := p.execute(ctx, req.ProjectID, req.SQL, attempt)
	if pipeErr != nil {
		return pipeErr
	}
	resp.Result = result
	return nil
}

func checkSafety(sqlText string) *Error {
	keyword, ok := safety.Check(sqlText)
	if ok {
		return nil
	}
	observability.IncrementSafetyRejection()
	return &Error{
		Kind:    ErrorKindSafety,
		Message: fmt.Sprintf("statement contains restricted keyword %s", keyword),
	}
}

func (p *Pipeline) execute(ctx context.Context, projectID, sqlText string, attempt *store.QueryAttempt) (*warehouse.Result, *Error) {
	executor, err := p.deps.Warehouses.ExecutorFor(ctx, projectID)
	if err != nil {
		return nil, newError(ErrorKindConfiguration, err)
	}
	defer func() { _ = executor.Close() }()

	result, err := executor.Execute(ctx, sqlText, p.cfg.ExecutionTimeout)
	if err != nil {
		if errors.Is(err, warehouse.ErrNotConfigured) || errors.Is(err, store.ErrNotFound) {
			return nil, newError(ErrorKindConfiguration, err)
		}
		return nil, newError(ErrorKindExecution, err)
	}

	attempt.ExecutionTimeMs = &result.ExecutionTimeMs
	attempt.RowsReturned = &result.RowCount
	attempt.BytesProcessed = &result.BytesProcessed
	observability.ObserveWarehouseExecution(time.Duration(result.ExecutionTimeMs)*time.Millisecond, result.BytesProcessed)
	return &result, nil
}

// appendConversation records the exchange on the success path. Failures
// here are logged, not surfaced: the query itself succeeded and the
// audit record still gets written.
func (p *Pipeline) appendConversation(ctx context.Context, conversationID, question, sqlText string, tokens int) {
	if strings.TrimSpace(conversationID) == "" {
		return
	}

	if _, err := p.deps.Store.AppendTurn(ctx, store.AppendTurnInput{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           store.RoleUser,
		Content:        question,
	}); err != nil {
		p.deps.Logger.Warn("append user turn failed", "conversation_id", conversationID, "error", err)
		return
	}
	if _, err := p.deps.Store.AppendTurn(ctx, store.AppendTurnInput{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           store.RoleAssistant,
		Content:        "Generated SQL:\n```sql\n" + sqlText + "\n```",
		TokensUsed:     tokens,
	}); err != nil {
		p.deps.Logger.Warn("append assistant turn failed", "conversation_id", conversationID, "error", err)
		return
	}

	title := question
	if runes := []rune(title); len(runes) > conversationTitleLimit {
		title = string(runes[:conversationTitleLimit])
	}
	if err := p.deps.Store.SetConversationTitleIfEmpty(ctx, conversationID, title); err != nil {
		p.deps.Logger.Warn("set conversation title failed", "conversation_id", conversationID, "error", err)
	}
}
