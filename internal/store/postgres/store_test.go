package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/insightql/insightql/internal/store"
)

func TestListActiveGlobalInstructions(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT id, instruction_text, COALESCE(category, ''), priority, active, created_at
FROM global_instructions
WHERE active = TRUE
ORDER BY priority ASC, created_at ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "instruction_text", "category", "priority", "active", "created_at"}).
			AddRow("gi-1", "Always use standard SQL syntax", "style", 1, true, now).
			AddRow("gi-2", "Limit results to 1000 rows unless specified", "safety", 2, true, now))

	instructions, err := repo.ListActiveGlobalInstructions(context.Background())
	if err != nil {
		t.Fatalf("ListActiveGlobalInstructions() error = %v", err)
	}
	if len(instructions) != 2 {
		t.Fatalf("len(instructions) = %d, want 2", len(instructions))
	}
	if instructions[0].Scope != store.ScopeGlobal {
		t.Fatalf("Scope = %q", instructions[0].Scope)
	}
	if instructions[1].Priority != 2 {
		t.Fatalf("Priority = %d", instructions[1].Priority)
	}
	assertSQLMock(t, mock)
}

func TestListActiveProjectInstructions(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT id, project_id, instruction_text, priority, active, created_at
FROM project_instructions
WHERE project_id = $1 AND active = TRUE
ORDER BY priority ASC, created_at ASC`)).
		WithArgs("proj-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "instruction_text", "priority", "active", "created_at"}).
			AddRow("pi-1", "proj-1", "Revenue is in cents", 1, true, now))

	instructions, err := repo.ListActiveProjectInstructions(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("ListActiveProjectInstructions() error = %v", err)
	}
	if len(instructions) != 1 {
		t.Fatalf("len(instructions) = %d", len(instructions))
	}
	if instructions[0].Scope != store.ScopeProject {
		t.Fatalf("Scope = %q", instructions[0].Scope)
	}
	assertSQLMock(t, mock)
}

func TestGetProjectDecodesSchemaCache(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewStore(db)
	now := time.Now().UTC()

	schemaJSON := `{"orders":{"columns":[{"name":"id","type":"INTEGER","mode":"NULLABLE"}],"row_count":10,"size_bytes":2048}}`
	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT id, name, COALESCE(warehouse_project, ''), COALESCE(warehouse_dataset, ''),
       credentials, schema_cache, schema_updated_at, created_at
FROM projects
WHERE id = $1`)).
		WithArgs("proj-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "warehouse_project", "warehouse_dataset",
			"credentials", "schema_cache", "schema_updated_at", "created_at",
		}).AddRow("proj-1", "Analytics", "acme", "sales", `{"endpoint":"minio:9000"}`, schemaJSON, now, now))

	project, err := repo.GetProject(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if project.WarehouseDataset != "sales" {
		t.Fatalf("WarehouseDataset = %q", project.WarehouseDataset)
	}
	table, ok := project.SchemaCache["orders"]
	if !ok {
		t.Fatal("schema cache missing orders table")
	}
	if len(table.Columns) != 1 || table.Columns[0].Name != "id" {
		t.Fatalf("Columns = %+v", table.Columns)
	}
	if project.SchemaUpdatedAt == nil {
		t.Fatal("SchemaUpdatedAt should be set")
	}
	assertSQLMock(t, mock)
}

func TestGetProjectNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewStore(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT id, name, COALESCE(warehouse_project, ''), COALESCE(warehouse_dataset, ''),
       credentials, schema_cache, schema_updated_at, created_at
FROM projects
WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetProject(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, store.ErrNotFound)
	}
	assertSQLMock(t, mock)
}

func TestUpdateProjectSchemaNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewStore(db)

	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE projects
SET schema_cache = $2::jsonb, schema_updated_at = NOW()
WHERE id = $1`)).
		WithArgs("missing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateProjectSchema(context.Background(), "missing", store.SchemaSnapshot{})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, store.ErrNotFound)
	}
	assertSQLMock(t, mock)
}

func TestListRecentTurnsAppliesLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT id, conversation_id, role, content, tokens_used, created_at
FROM conversation_turns
WHERE conversation_id = $1
ORDER BY created_at DESC
LIMIT $2`)).
		WithArgs("conv-1", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "role", "content", "tokens_used", "created_at"}).
			AddRow("t-2", "conv-1", "assistant", "Here is the SQL", 42, now).
			AddRow("t-1", "conv-1", "user", "show me revenue", 12, now.Add(-time.Minute)))

	turns, err := repo.ListRecentTurns(context.Background(), "conv-1", 0)
	if err != nil {
		t.Fatalf("ListRecentTurns() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d", len(turns))
	}
	if turns[0].Role != store.RoleAssistant {
		t.Fatalf("Role = %q", turns[0].Role)
	}
	assertSQLMock(t, mock)
}

func TestAppendTurn(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO conversation_turns (id, conversation_id, role, content, tokens_used)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at`)).
		WithArgs("t-1", "conv-1", "user", "show me revenue", 12).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	turn, err := repo.AppendTurn(context.Background(), store.AppendTurnInput{
		ID:             "t-1",
		ConversationID: "conv-1",
		Role:           store.RoleUser,
		Content:        "show me revenue",
		TokensUsed:     12,
	})
	if err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if !turn.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %v, want %v", turn.CreatedAt, now)
	}
	assertSQLMock(t, mock)
}

func TestSetConversationTitleIfEmpty(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewStore(db)

	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE conversations
SET title = $2
WHERE id = $1 AND (title IS NULL OR title = '')`)).
		WithArgs("conv-1", "show me revenue").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetConversationTitleIfEmpty(context.Background(), "conv-1", "show me revenue"); err != nil {
		t.Fatalf("SetConversationTitleIfEmpty() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestUpsertQueryAttempt(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewStore(db)

	generatedSQL := "SELECT 1"
	genMs := int64(120)
	tokens := 88
	execMs := int64(40)
	rows := 1
	bytesProcessed := int64(4096)
	convID := "conv-1"

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO query_attempts`)).
		WithArgs(
			"qa-1", "user-1", "proj-1", convID, "how many orders",
			generatedSQL, genMs, int64(tokens),
			"success", execMs, int64(rows), bytesProcessed,
			nil, nil, "claude-3-5-sonnet-20241022",
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.UpsertQueryAttempt(context.Background(), store.QueryAttempt{
		ID:               "qa-1",
		UserID:           "user-1",
		ProjectID:        "proj-1",
		ConversationID:   &convID,
		Question:         "how many orders",
		GeneratedSQL:     &generatedSQL,
		GenerationTimeMs: &genMs,
		GenerationTokens: &tokens,
		ExecutionStatus:  store.ExecutionStatusSuccess,
		ExecutionTimeMs:  &execMs,
		RowsReturned:     &rows,
		BytesProcessed:   &bytesProcessed,
		Model:            "claude-3-5-sonnet-20241022",
	})
	if err != nil {
		t.Fatalf("UpsertQueryAttempt() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestListQueryAttemptsFiltersByProject(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM query_attempts WHERE user_id = $1 AND project_id = $2`)).
		WithArgs("user-1", "proj-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	columns := []string{
		"id", "user_id", "project_id", "conversation_id", "user_question",
		"generated_sql", "generation_time_ms", "generation_tokens",
		"execution_status", "execution_time_ms", "rows_returned", "bytes_processed",
		"error_type", "error_message", "model", "created_at",
	}
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE user_id = $1 AND project_id = $2
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`)).
		WithArgs("user-1", "proj-1", 2, 1).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("qa-2", "user-1", "proj-1", "conv-1", "How many orders?",
				"SELECT COUNT(*) FROM orders LIMIT 100", int64(420), 96,
				"success", int64(35), 1, int64(4096),
				nil, nil, "claude-3-5-sonnet-20241022", now).
			AddRow("qa-1", "user-1", "proj-1", nil, "DROP TABLE orders",
				nil, nil, nil,
				"failed", nil, nil, nil,
				"safety_rejection", "statement contains restricted keyword DROP", "direct", now.Add(-time.Minute)))

	attempts, total, err := repo.ListQueryAttempts(context.Background(), "user-1", "proj-1", 2, 1)
	if err != nil {
		t.Fatalf("ListQueryAttempts() error = %v", err)
	}
	if total != 7 {
		t.Fatalf("total = %d, want 7", total)
	}
	if len(attempts) != 2 {
		t.Fatalf("len(attempts) = %d, want 2", len(attempts))
	}
	if attempts[0].ID != "qa-2" || attempts[0].GeneratedSQL == nil || *attempts[0].RowsReturned != 1 {
		t.Fatalf("unexpected first attempt: %+v", attempts[0])
	}
	if attempts[1].ConversationID != nil || attempts[1].GeneratedSQL != nil {
		t.Fatalf("expected nil optional fields: %+v", attempts[1])
	}
	if attempts[1].ErrorType == nil || *attempts[1].ErrorType != "safety_rejection" {
		t.Fatalf("ErrorType = %v", attempts[1].ErrorType)
	}
	assertSQLMock(t, mock)
}

func TestListQueryAttemptsDefaultsLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewStore(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM query_attempts WHERE user_id = $1`)).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`)).
		WithArgs("user-1", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	attempts, total, err := repo.ListQueryAttempts(context.Background(), "user-1", "", 0, -3)
	if err != nil {
		t.Fatalf("ListQueryAttempts() error = %v", err)
	}
	if total != 0 || len(attempts) != 0 {
		t.Fatalf("total = %d, len = %d", total, len(attempts))
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
