// Package insight derives a one-line summary and a chart suggestion
// from a query result's shape.
package insight

import (
	"fmt"

	"github.com/insightql/insightql/internal/warehouse"
)

const noResultsMessage = "No results found for your query."

// ChartSuggestion hints how a result could be visualized.
type ChartSuggestion struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

// Summarize returns the insight line for a result.
func Summarize(result warehouse.Result) string {
	if result.RowCount == 0 {
		return noResultsMessage
	}
	return fmt.Sprintf("Query returned %d row(s). ", result.RowCount)
}

// SuggestChart picks a chart type from the column shape. The decision
// order matters: single column, dated two-column, categorical
// two-column, then table fallbacks.
func SuggestChart(result warehouse.Result) *ChartSuggestion {
	columns := result.Columns
	if result.RowCount == 0 || len(columns) == 0 {
		return nil
	}

	if len(columns) == 1 {
		return &ChartSuggestion{Type: "metric", Title: "Single Value"}
	}

	if len(columns) == 2 {
		first, second := columns[0].Type, columns[1].Type
		if isDateType(first) {
			return &ChartSuggestion{Type: "line", Title: "Trend Over Time"}
		}
		if first == "STRING" && isNumericType(second) {
			return &ChartSuggestion{Type: "bar", Title: "Comparison"}
		}
	}

	if len(columns) >= 3 {
		return &ChartSuggestion{Type: "table", Title: "Data Table"}
	}
	return &ChartSuggestion{Type: "table", Title: "Data View"}
}

func isDateType(t string) bool {
	switch t {
	case "DATE", "DATETIME", "TIMESTAMP":
		return true
	}
	return false
}

func isNumericType(t string) bool {
	switch t {
	case "INTEGER", "FLOAT", "NUMERIC":
		return true
	}
	return false
}
