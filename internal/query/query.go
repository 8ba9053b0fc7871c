// Package query runs generated SQL against a session's database and
// materialises the outcome for display.
package query

import (
	"strconv"
	"time"
)

// Kind tells whether a statement produced rows or only a rows-affected count.
type Kind string

const (
	KindRows Kind = "rows"
	KindExec Kind = "exec"
)

const DefaultMaxRows = 1000

type Result struct {
	Kind         Kind          `json:"kind"`
	Columns      []string      `json:"columns"`
	Rows         [][]any       `json:"rows"`
	RowsAffected int64         `json:"rows_affected"`
	Truncated    bool          `json:"truncated"`
	Duration     time.Duration `json:"duration"`
}

// RowCount is the number of materialised rows.
func (r Result) RowCount() int { return len(r.Rows) }

// Records returns the rows as column name to value maps.
func (r Result) Records() []map[string]any {
	records := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		record := make(map[string]any, len(r.Columns))
		for i, column := range r.Columns {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		records = append(records, record)
	}
	return records
}

// Summary is a one-line description used in history entries.
func (r Result) Summary() string {
	if r.Kind == KindExec {
		return pluralize(r.RowsAffected, "row affected", "rows affected")
	}
	summary := pluralize(int64(len(r.Rows)), "row", "rows")
	if r.Truncated {
		summary += " (truncated)"
	}
	return summary
}

func pluralize(n int64, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return strconv.FormatInt(n, 10) + " " + many
}
