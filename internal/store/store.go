package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

type InstructionScope string

const (
	ScopeGlobal  InstructionScope = "global"
	ScopeProject InstructionScope = "project"
)

const (
	ExecutionStatusSuccess = "success"
	ExecutionStatusFailed  = "failed"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Instruction is a prompt rule, either system-wide or scoped to one project.
// Instructions are maintained out of core and are read-only to the pipeline.
type Instruction struct {
	ID        string
	Text      string
	Category  string
	Priority  int
	Active    bool
	Scope     InstructionScope
	ProjectID string
	CreatedAt time.Time
}

// MemoryEntry is a free-text business fact keyed by name. Duplicate keys are
// allowed and all entries are rendered.
type MemoryEntry struct {
	ID        string
	ProjectID string
	Type      string
	Key       string
	Content   string
	CreatedAt time.Time
}

type ColumnInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Mode        string `json:"mode,omitempty"`
	Description string `json:"description,omitempty"`
}

type TableSchema struct {
	Columns   []ColumnInfo `json:"columns"`
	RowCount  int64        `json:"row_count,omitempty"`
	SizeBytes int64        `json:"size_bytes,omitempty"`
}

// SchemaSnapshot is the cached point-in-time description of a project's
// warehouse dataset, keyed by table name. The pipeline only reads it; the
// connect/refresh collaborator replaces it wholesale.
type SchemaSnapshot map[string]TableSchema

type Project struct {
	ID               string
	Name             string
	WarehouseProject string
	WarehouseDataset string
	CredentialsJSON  []byte
	SchemaCache      SchemaSnapshot
	SchemaUpdatedAt  *time.Time
	CreatedAt        time.Time
}

type ConversationTurn struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	TokensUsed     int
	CreatedAt      time.Time
}

type AppendTurnInput struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	TokensUsed     int
}

// QueryAttempt is the audit record. Exactly one is written per pipeline
// invocation, success or failure; it is never mutated afterward.
type QueryAttempt struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	ProjectID        string    `json:"project_id"`
	ConversationID   *string   `json:"conversation_id,omitempty"`
	Question         string    `json:"question"`
	GeneratedSQL     *string   `json:"generated_sql,omitempty"`
	GenerationTimeMs *int64    `json:"generation_time_ms,omitempty"`
	GenerationTokens *int      `json:"generation_tokens,omitempty"`
	ExecutionStatus  string    `json:"execution_status"`
	ExecutionTimeMs  *int64    `json:"execution_time_ms,omitempty"`
	RowsReturned     *int      `json:"rows_returned,omitempty"`
	BytesProcessed   *int64    `json:"bytes_processed,omitempty"`
	ErrorType        *string   `json:"error_type,omitempty"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
	Model            string    `json:"model"`
	CreatedAt        time.Time `json:"created_at"`
}

type Store interface {
	HealthCheck(ctx context.Context) error

	ListActiveGlobalInstructions(ctx context.Context) ([]Instruction, error)
	ListActiveProjectInstructions(ctx context.Context, projectID string) ([]Instruction, error)
	ListProjectMemory(ctx context.Context, projectID string) ([]MemoryEntry, error)

	GetProject(ctx context.Context, projectID string) (Project, error)
	UpdateProjectSchema(ctx context.Context, projectID string, snapshot SchemaSnapshot) error

	ListRecentTurns(ctx context.Context, conversationID string, limit int) ([]ConversationTurn, error)
	AppendTurn(ctx context.Context, in AppendTurnInput) (ConversationTurn, error)
	SetConversationTitleIfEmpty(ctx context.Context, conversationID, title string) error

	UpsertQueryAttempt(ctx context.Context, attempt QueryAttempt) error
	ListQueryAttempts(ctx context.Context, userID, projectID string, limit, offset int) ([]QueryAttempt, int, error)
}
