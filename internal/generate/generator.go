// Package generate turns an assembled prompt context and a user question
// into a single SQL statement via one LLM call.
package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/insightql/insightql/internal/llm"
	"github.com/insightql/insightql/internal/promptctx"
)

// promptTemplate is the fixed instruction template. Its length also feeds
// the token estimate, so changes here shift reported usage.
const promptTemplate = `You are a SQL expert specializing in DuckDB analytics queries.
Your task is to generate precise DuckDB SQL based on the user's question.

GLOBAL RULES (ALWAYS FOLLOW):
%s

%s

%s

%s

IMPORTANT FORMATTING RULES:
- Return ONLY the SQL query, nothing else
- Do NOT wrap the query in ` + "```sql```" + ` or any markdown
- Use proper DuckDB syntax (not MySQL or BigQuery)
- Always use fully qualified table names (project.dataset.table)
- Include appropriate LIMIT clause (default: LIMIT 100)
- Optimize for performance and cost

USER QUESTION: %s

SQL:`

// Result carries the generated statement plus coarse usage metrics.
// TokensUsed is a character-count estimate, not a billed-token figure.
type Result struct {
	SQL              string
	TokensUsed       int
	GenerationTimeMs int64
}

type Generator struct {
	client llm.Client
}

func NewGenerator(client llm.Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, pc promptctx.Context, question, model string) (Result, error) {
	prompt := fmt.Sprintf(promptTemplate, pc.GlobalRules, pc.ProjectRules, pc.Schema, pc.Conversation, question)

	start := time.Now()
	raw, err := g.client.Complete(ctx, model, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("sql generation failed: %w", err)
	}

	sql := stripCodeFence(raw)
	if strings.TrimSpace(sql) == "" {
		return Result{}, fmt.Errorf("sql generation failed: model returned empty SQL")
	}

	// Rough estimate: 4 characters per token.
	tokens := (len(promptTemplate) + len(question) + len(sql)) / 4

	return Result{
		SQL:              sql,
		TokensUsed:       tokens,
		GenerationTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func stripCodeFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
