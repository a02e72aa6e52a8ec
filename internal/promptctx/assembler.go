// Package promptctx assembles the generation context for a question:
// global rules, project rules and facts, cached warehouse schema, and a
// bounded excerpt of the recent conversation.
package promptctx

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/insightql/insightql/internal/store"
)

// fallbackGlobalRules is used when no active global instructions exist.
const fallbackGlobalRules = `- Always use LIMIT clause for safety
- Never use DROP, DELETE, or UPDATE statements
- Use DuckDB standard SQL syntax
- Optimize queries for cost (avoid SELECT *, use partitions when available)`

const noProjectRules = "No project-specific rules defined."

const noSchemaAvailable = "No schema available. Please configure the warehouse connection first."

// turnContentLimit bounds each rendered conversation message.
const turnContentLimit = 200

// recentTurnCount is how many trailing turns are rendered.
const recentTurnCount = 5

// Reader is the read-only store surface the assembler needs.
type Reader interface {
	ListActiveGlobalInstructions(ctx context.Context) ([]store.Instruction, error)
	ListActiveProjectInstructions(ctx context.Context, projectID string) ([]store.Instruction, error)
	ListProjectMemory(ctx context.Context, projectID string) ([]store.MemoryEntry, error)
	ListRecentTurns(ctx context.Context, conversationID string, limit int) ([]store.ConversationTurn, error)
}

// Context holds the four independently rendered prompt blocks.
type Context struct {
	GlobalRules  string
	ProjectRules string
	Schema       string
	Conversation string
}

type Assembler struct {
	reader Reader
}

func NewAssembler(reader Reader) *Assembler {
	return &Assembler{reader: reader}
}

// Assemble renders all blocks for the given project and optional
// conversation. It only reads; nothing is written.
func (a *Assembler) Assemble(ctx context.Context, project store.Project, conversationID string) (Context, error) {
	globalRules, err := a.renderGlobalRules(ctx)
	if err != nil {
		return Context{}, err
	}
	projectRules, err := a.renderProjectRules(ctx, project.ID)
	if err != nil {
		return Context{}, err
	}
	conversation, err := a.renderConversation(ctx, conversationID)
	if err != nil {
		return Context{}, err
	}
	return Context{
		GlobalRules:  globalRules,
		ProjectRules: projectRules,
		Schema:       renderSchema(project),
		Conversation: conversation,
	}, nil
}

func (a *Assembler) renderGlobalRules(ctx context.Context) (string, error) {
	instructions, err := a.reader.ListActiveGlobalInstructions(ctx)
	if err != nil {
		return "", fmt.Errorf("load global instructions: %w", err)
	}
	if len(instructions) == 0 {
		return fallbackGlobalRules, nil
	}
	lines := make([]string, 0, len(instructions))
	for _, instruction := range instructions {
		lines = append(lines, "- "+instruction.Text)
	}
	return strings.Join(lines, "\n"), nil
}

func (a *Assembler) renderProjectRules(ctx context.Context, projectID string) (string, error) {
	memory, err := a.reader.ListProjectMemory(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("load project memory: %w", err)
	}
	instructions, err := a.reader.ListActiveProjectInstructions(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("load project instructions: %w", err)
	}

	var b strings.Builder
	if len(memory) > 0 {
		b.WriteString("BUSINESS RULES & DOMAIN KNOWLEDGE:\n")
		for _, entry := range memory {
			fmt.Fprintf(&b, "- %s: %s\n", entry.Key, entry.Content)
		}
		b.WriteString("\n")
	}
	if len(instructions) > 0 {
		b.WriteString("PROJECT-SPECIFIC INSTRUCTIONS:\n")
		for _, instruction := range instructions {
			fmt.Fprintf(&b, "- %s\n", instruction.Text)
		}
	}
	if b.Len() == 0 {
		return noProjectRules, nil
	}
	return b.String(), nil
}

func (a *Assembler) renderConversation(ctx context.Context, conversationID string) (string, error) {
	if strings.TrimSpace(conversationID) == "" {
		return "", nil
	}
	turns, err := a.reader.ListRecentTurns(ctx, conversationID, recentTurnCount)
	if err != nil {
		return "", fmt.Errorf("load conversation turns: %w", err)
	}
	if len(turns) == 0 {
		return "", nil
	}

	// The store returns most-recent-first; render chronologically.
	var b strings.Builder
	b.WriteString("RECENT CONVERSATION HISTORY:\n")
	for i := len(turns) - 1; i >= 0; i-- {
		turn := turns[i]
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(string(turn.Role)), truncate(turn.Content, turnContentLimit))
	}
	return b.String(), nil
}

func renderSchema(project store.Project) string {
	if len(project.SchemaCache) == 0 {
		return noSchemaAvailable
	}

	tableNames := make([]string, 0, len(project.SchemaCache))
	for name := range project.SchemaCache {
		tableNames = append(tableNames, name)
	}
	sort.Strings(tableNames)

	var b strings.Builder
	b.WriteString("AVAILABLE TABLES AND SCHEMA:\n\n")
	for _, name := range tableNames {
		table := project.SchemaCache[name]
		fmt.Fprintf(&b, "Table: %s.%s.%s\n", project.WarehouseProject, project.WarehouseDataset, name)
		if len(table.Columns) > 0 {
			b.WriteString("Columns:\n")
			for _, column := range table.Columns {
				fmt.Fprintf(&b, "  - %s (%s)\n", column.Name, column.Type)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
