package promptctx

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/insightql/insightql/internal/store"
)

type stubReader struct {
	global       []store.Instruction
	project      []store.Instruction
	memory       []store.MemoryEntry
	turns        []store.ConversationTurn
	turnLimit    int
	turnConvID   string
	turnsQueried bool
}

func (s *stubReader) ListActiveGlobalInstructions(context.Context) ([]store.Instruction, error) {
	return s.global, nil
}

func (s *stubReader) ListActiveProjectInstructions(_ context.Context, _ string) ([]store.Instruction, error) {
	return s.project, nil
}

func (s *stubReader) ListProjectMemory(_ context.Context, _ string) ([]store.MemoryEntry, error) {
	return s.memory, nil
}

func (s *stubReader) ListRecentTurns(_ context.Context, conversationID string, limit int) ([]store.ConversationTurn, error) {
	s.turnsQueried = true
	s.turnConvID = conversationID
	s.turnLimit = limit
	return s.turns, nil
}

func TestAssembleFallsBackToBuiltInGlobalRules(t *testing.T) {
	assembler := NewAssembler(&stubReader{})

	got, err := assembler.Assemble(context.Background(), store.Project{ID: "proj-1"}, "")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if got.GlobalRules != fallbackGlobalRules {
		t.Fatalf("GlobalRules = %q, want fallback ruleset", got.GlobalRules)
	}
}

func TestAssembleRendersGlobalInstructionsAsBullets(t *testing.T) {
	assembler := NewAssembler(&stubReader{
		global: []store.Instruction{
			{Text: "Prefer explicit column lists"},
			{Text: "Cap result sets at 1000 rows"},
		},
	})

	got, err := assembler.Assemble(context.Background(), store.Project{ID: "proj-1"}, "")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	want := "- Prefer explicit column lists\n- Cap result sets at 1000 rows"
	if got.GlobalRules != want {
		t.Fatalf("GlobalRules = %q, want %q", got.GlobalRules, want)
	}
}

func TestAssembleEmitsNoRulesSentinel(t *testing.T) {
	assembler := NewAssembler(&stubReader{})

	got, err := assembler.Assemble(context.Background(), store.Project{ID: "proj-1"}, "")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if got.ProjectRules != noProjectRules {
		t.Fatalf("ProjectRules = %q, want sentinel", got.ProjectRules)
	}
}

func TestAssembleRendersMemoryAndInstructions(t *testing.T) {
	assembler := NewAssembler(&stubReader{
		memory: []store.MemoryEntry{
			{Key: "revenue", Content: "stored in cents"},
		},
		project: []store.Instruction{
			{Text: "Always filter out test accounts"},
		},
	})

	got, err := assembler.Assemble(context.Background(), store.Project{ID: "proj-1"}, "")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if !strings.Contains(got.ProjectRules, "BUSINESS RULES & DOMAIN KNOWLEDGE:\n- revenue: stored in cents") {
		t.Fatalf("ProjectRules missing memory block: %q", got.ProjectRules)
	}
	if !strings.Contains(got.ProjectRules, "PROJECT-SPECIFIC INSTRUCTIONS:\n- Always filter out test accounts") {
		t.Fatalf("ProjectRules missing instruction block: %q", got.ProjectRules)
	}
}

func TestAssembleSkipsConversationWithoutID(t *testing.T) {
	reader := &stubReader{
		turns: []store.ConversationTurn{{Role: store.RoleUser, Content: "hi"}},
	}
	assembler := NewAssembler(reader)

	got, err := assembler.Assemble(context.Background(), store.Project{ID: "proj-1"}, "")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if got.Conversation != "" {
		t.Fatalf("Conversation = %q, want empty", got.Conversation)
	}
	if reader.turnsQueried {
		t.Fatal("turns should not be queried without a conversation id")
	}
}

func TestAssembleRendersTurnsChronologicallyTruncated(t *testing.T) {
	long := strings.Repeat("x", 300)
	now := time.Now()
	reader := &stubReader{
		turns: []store.ConversationTurn{
			{Role: store.RoleAssistant, Content: long, CreatedAt: now},
			{Role: store.RoleUser, Content: "show me revenue", CreatedAt: now.Add(-time.Minute)},
		},
	}
	assembler := NewAssembler(reader)

	got, err := assembler.Assemble(context.Background(), store.Project{ID: "proj-1"}, "conv-1")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if reader.turnLimit != recentTurnCount {
		t.Fatalf("turn limit = %d, want %d", reader.turnLimit, recentTurnCount)
	}
	userIdx := strings.Index(got.Conversation, "USER: show me revenue")
	assistantIdx := strings.Index(got.Conversation, "ASSISTANT: ")
	if userIdx == -1 || assistantIdx == -1 {
		t.Fatalf("Conversation missing turns: %q", got.Conversation)
	}
	if userIdx > assistantIdx {
		t.Fatal("turns should be rendered oldest first")
	}
	if strings.Contains(got.Conversation, long) {
		t.Fatal("long content should be truncated")
	}
	if !strings.Contains(got.Conversation, strings.Repeat("x", turnContentLimit)+"\n") {
		t.Fatal("assistant content should be truncated to the character budget")
	}
}

func TestAssembleSchemaBlock(t *testing.T) {
	project := store.Project{
		ID:               "proj-1",
		WarehouseProject: "acme",
		WarehouseDataset: "sales",
		SchemaCache: store.SchemaSnapshot{
			"orders": {Columns: []store.ColumnInfo{
				{Name: "id", Type: "INTEGER"},
				{Name: "placed_at", Type: "TIMESTAMP"},
			}},
			"customers": {Columns: []store.ColumnInfo{
				{Name: "name", Type: "STRING"},
			}},
		},
	}
	assembler := NewAssembler(&stubReader{})

	got, err := assembler.Assemble(context.Background(), project, "")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if !strings.HasPrefix(got.Schema, "AVAILABLE TABLES AND SCHEMA:\n\n") {
		t.Fatalf("Schema = %q", got.Schema)
	}
	if !strings.Contains(got.Schema, "Table: acme.sales.orders\nColumns:\n  - id (INTEGER)\n  - placed_at (TIMESTAMP)") {
		t.Fatalf("Schema missing orders table: %q", got.Schema)
	}
	customersIdx := strings.Index(got.Schema, "Table: acme.sales.customers")
	ordersIdx := strings.Index(got.Schema, "Table: acme.sales.orders")
	if customersIdx == -1 || ordersIdx == -1 || customersIdx > ordersIdx {
		t.Fatalf("tables should be rendered sorted by name: %q", got.Schema)
	}
}

func TestAssembleEmitsNoSchemaMessage(t *testing.T) {
	assembler := NewAssembler(&stubReader{})

	got, err := assembler.Assemble(context.Background(), store.Project{ID: "proj-1"}, "")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if got.Schema != noSchemaAvailable {
		t.Fatalf("Schema = %q, want no-schema message", got.Schema)
	}
}
