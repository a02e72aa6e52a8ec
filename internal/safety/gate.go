// Package safety implements the pre-execution keyword gate. It is a
// deliberately coarse case-insensitive substring scan, not a SQL parser:
// a denylisted keyword anywhere in the text, including inside string
// literals or comments, causes rejection.
package safety

import "strings"

var deniedKeywords = []string{"DROP", "DELETE", "TRUNCATE", "ALTER", "CREATE", "UPDATE"}

// Check returns the denylisted keyword found in sql, or ok=true when the
// statement passes.
func Check(sql string) (keyword string, ok bool) {
	upper := strings.ToUpper(sql)
	for _, kw := range deniedKeywords {
		if strings.Contains(upper, kw) {
			return kw, false
		}
	}
	return "", true
}
