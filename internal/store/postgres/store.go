package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/insightql/insightql/internal/store"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func (s *Store) ListActiveGlobalInstructions(ctx context.Context) ([]store.Instruction, error) {
	query := `
SELECT id, instruction_text, COALESCE(category, ''), priority, active, created_at
FROM global_instructions
WHERE active = TRUE
ORDER BY priority ASC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list global instructions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	instructions := make([]store.Instruction, 0)
	for rows.Next() {
		instruction := store.Instruction{Scope: store.ScopeGlobal}
		if err := rows.Scan(
			&instruction.ID,
			&instruction.Text,
			&instruction.Category,
			&instruction.Priority,
			&instruction.Active,
			&instruction.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan global instruction row: %w", err)
		}
		instructions = append(instructions, instruction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate global instruction rows: %w", err)
	}
	return instructions, nil
}

func (s *Store) ListActiveProjectInstructions(ctx context.Context, projectID string) ([]store.Instruction, error) {
	query := `
SELECT id, project_id, instruction_text, priority, active, created_at
FROM project_instructions
WHERE project_id = $1 AND active = TRUE
ORDER BY priority ASC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project instructions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	instructions := make([]store.Instruction, 0)
	for rows.Next() {
		instruction := store.Instruction{Scope: store.ScopeProject}
		if err := rows.Scan(
			&instruction.ID,
			&instruction.ProjectID,
			&instruction.Text,
			&instruction.Priority,
			&instruction.Active,
			&instruction.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan project instruction row: %w", err)
		}
		instructions = append(instructions, instruction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project instruction rows: %w", err)
	}
	return instructions, nil
}

func (s *Store) ListProjectMemory(ctx context.Context, projectID string) ([]store.MemoryEntry, error) {
	query := `
SELECT id, project_id, COALESCE(memory_type, ''), key, content, created_at
FROM project_memory
WHERE project_id = $1
ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project memory: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]store.MemoryEntry, 0)
	for rows.Next() {
		var entry store.MemoryEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.ProjectID,
			&entry.Type,
			&entry.Key,
			&entry.Content,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan project memory row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project memory rows: %w", err)
	}
	return entries, nil
}

func (s *Store) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	query := `
SELECT id, name, COALESCE(warehouse_project, ''), COALESCE(warehouse_dataset, ''),
       credentials, schema_cache, schema_updated_at, created_at
FROM projects
WHERE id = $1`

	var project store.Project
	var credentials sql.NullString
	var schemaCache sql.NullString
	var schemaUpdatedAt sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, projectID).Scan(
		&project.ID,
		&project.Name,
		&project.WarehouseProject,
		&project.WarehouseDataset,
		&credentials,
		&schemaCache,
		&schemaUpdatedAt,
		&project.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Project{}, store.ErrNotFound
		}
		return store.Project{}, fmt.Errorf("get project: %w", err)
	}

	if credentials.Valid && credentials.String != "" {
		project.CredentialsJSON = []byte(credentials.String)
	}
	if schemaCache.Valid && schemaCache.String != "" && schemaCache.String != "{}" {
		var snapshot store.SchemaSnapshot
		if err := json.Unmarshal([]byte(schemaCache.String), &snapshot); err != nil {
			return store.Project{}, fmt.Errorf("decode schema cache: %w", err)
		}
		project.SchemaCache = snapshot
	}
	if schemaUpdatedAt.Valid {
		t := schemaUpdatedAt.Time
		project.SchemaUpdatedAt = &t
	}
	return project, nil
}

func (s *Store) UpdateProjectSchema(ctx context.Context, projectID string, snapshot store.SchemaSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode schema cache: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
UPDATE projects
SET schema_cache = $2::jsonb, schema_updated_at = NOW()
WHERE id = $1`, projectID, string(payload))
	if err != nil {
		return fmt.Errorf("update project schema: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update project schema rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListRecentTurns(ctx context.Context, conversationID string, limit int) ([]store.ConversationTurn, error) {
	if limit <= 0 {
		limit = 5
	}
	query := `
SELECT id, conversation_id, role, content, tokens_used, created_at
FROM conversation_turns
WHERE conversation_id = $1
ORDER BY created_at DESC
LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	turns := make([]store.ConversationTurn, 0, limit)
	for rows.Next() {
		var turn store.ConversationTurn
		if err := rows.Scan(
			&turn.ID,
			&turn.ConversationID,
			&turn.Role,
			&turn.Content,
			&turn.TokensUsed,
			&turn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversation turn row: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation turn rows: %w", err)
	}
	return turns, nil
}

func (s *Store) AppendTurn(ctx context.Context, in store.AppendTurnInput) (store.ConversationTurn, error) {
	query := `
INSERT INTO conversation_turns (id, conversation_id, role, content, tokens_used)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at`

	turn := store.ConversationTurn{
		ID:             in.ID,
		ConversationID: in.ConversationID,
		Role:           in.Role,
		Content:        in.Content,
		TokensUsed:     in.TokensUsed,
	}
	if err := s.db.QueryRowContext(ctx, query, in.ID, in.ConversationID, in.Role, in.Content, in.TokensUsed).Scan(&turn.CreatedAt); err != nil {
		return store.ConversationTurn{}, fmt.Errorf("append conversation turn: %w", err)
	}
	return turn, nil
}

func (s *Store) SetConversationTitleIfEmpty(ctx context.Context, conversationID, title string) error {
	if _, err := s.db.ExecContext(ctx, `
UPDATE conversations
SET title = $2
WHERE id = $1 AND (title IS NULL OR title = '')`, conversationID, title); err != nil {
		return fmt.Errorf("set conversation title: %w", err)
	}
	return nil
}

func (s *Store) UpsertQueryAttempt(ctx context.Context, attempt store.QueryAttempt) error {
	query := `
INSERT INTO query_attempts (
    id, user_id, project_id, conversation_id, user_question,
    generated_sql, generation_time_ms, generation_tokens,
    execution_status, execution_time_ms, rows_returned, bytes_processed,
    error_type, error_message, model
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (id)
DO UPDATE SET
    generated_sql = EXCLUDED.generated_sql,
    generation_time_ms = EXCLUDED.generation_time_ms,
    generation_tokens = EXCLUDED.generation_tokens,
    execution_status = EXCLUDED.execution_status,
    execution_time_ms = EXCLUDED.execution_time_ms,
    rows_returned = EXCLUDED.rows_returned,
    bytes_processed = EXCLUDED.bytes_processed,
    error_type = EXCLUDED.error_type,
    error_message = EXCLUDED.error_message`

	if _, err := s.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.UserID,
		attempt.ProjectID,
		attempt.ConversationID,
		attempt.Question,
		attempt.GeneratedSQL,
		attempt.GenerationTimeMs,
		attempt.GenerationTokens,
		attempt.ExecutionStatus,
		attempt.ExecutionTimeMs,
		attempt.RowsReturned,
		attempt.BytesProcessed,
		attempt.ErrorType,
		attempt.ErrorMessage,
		attempt.Model,
	); err != nil {
		return fmt.Errorf("upsert query attempt: %w", err)
	}
	return nil
}

const defaultHistoryLimit = 50

// ListQueryAttempts returns a user's audit records newest first, plus
// the total matching count before limit/offset. Empty projectID means
// all of the user's projects.
func (s *Store) ListQueryAttempts(ctx context.Context, userID, projectID string, limit, offset int) ([]store.QueryAttempt, int, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	filter := `WHERE user_id = $1`
	args := []any{userID}
	if projectID != "" {
		filter += ` AND project_id = $2`
		args = append(args, projectID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_attempts `+filter, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count query attempts: %w", err)
	}

	query := `
SELECT id, user_id, project_id, conversation_id, user_question,
    generated_sql, generation_time_ms, generation_tokens,
    execution_status, execution_time_ms, rows_returned, bytes_processed,
    error_type, error_message, model, created_at
FROM query_attempts ` + filter + fmt.Sprintf(`
ORDER BY created_at DESC
LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list query attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	attempts := make([]store.QueryAttempt, 0)
	for rows.Next() {
		var attempt store.QueryAttempt
		var conversationID, generatedSQL, errorType, errorMessage sql.NullString
		var generationTimeMs, executionTimeMs, bytesProcessed sql.NullInt64
		var generationTokens, rowsReturned sql.NullInt32
		if err := rows.Scan(
			&attempt.ID,
			&attempt.UserID,
			&attempt.ProjectID,
			&conversationID,
			&attempt.Question,
			&generatedSQL,
			&generationTimeMs,
			&generationTokens,
			&attempt.ExecutionStatus,
			&executionTimeMs,
			&rowsReturned,
			&bytesProcessed,
			&errorType,
			&errorMessage,
			&attempt.Model,
			&attempt.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan query attempt row: %w", err)
		}
		attempt.ConversationID = nullableString(conversationID)
		attempt.GeneratedSQL = nullableString(generatedSQL)
		attempt.GenerationTimeMs = nullableInt64(generationTimeMs)
		attempt.GenerationTokens = nullableInt(generationTokens)
		attempt.ExecutionTimeMs = nullableInt64(executionTimeMs)
		attempt.RowsReturned = nullableInt(rowsReturned)
		attempt.BytesProcessed = nullableInt64(bytesProcessed)
		attempt.ErrorType = nullableString(errorType)
		attempt.ErrorMessage = nullableString(errorMessage)
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate query attempt rows: %w", err)
	}
	return attempts, total, nil
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullableInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func nullableInt(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	value := int(v.Int32)
	return &value
}

var _ store.Store = (*Store)(nil)
