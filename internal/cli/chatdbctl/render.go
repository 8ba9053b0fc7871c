package chatdbctl

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
)

type recordView struct {
	Question  string    `json:"question"`
	SQL       string    `json:"sql"`
	Status    string    `json:"status"`
	Error     string    `json:"error"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

type auditView struct {
	Question   string    `json:"question"`
	SQL        string    `json:"sql"`
	Status     string    `json:"status"`
	ErrorKind  string    `json:"error_kind"`
	RowCount   int       `json:"row_count"`
	OccurredAt time.Time `json:"occurred_at"`
}

type turnView struct {
	Record recordView `json:"record"`
	Result *struct {
		Kind         string   `json:"kind"`
		Columns      []string `json:"columns"`
		Rows         [][]any  `json:"rows"`
		RowsAffected int64    `json:"rows_affected"`
		Truncated    bool     `json:"truncated"`
	} `json:"result"`
}

func renderTurn(w io.Writer, turn turnView) {
	_, _ = fmt.Fprintf(w, "SQL: %s\n\n", turn.Record.SQL)
	result := turn.Result
	if result == nil {
		return
	}
	if result.Kind != "rows" {
		_, _ = fmt.Fprintf(w, "Rows affected: %d\n", result.RowsAffected)
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeader(result.Columns)
	for _, row := range result.Rows {
		cells := make([]string, 0, len(row))
		for _, value := range row {
			cells = append(cells, formatCell(value))
		}
		table.Append(cells)
	}
	table.Render()
	_, _ = fmt.Fprintln(w, turn.Record.Summary)
}

// renderHistory prints newest first, the order the browser page uses.
func renderHistory(w io.Writer, history []recordView) {
	if len(history) == 0 {
		_, _ = fmt.Fprintln(w, "no questions yet")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Time", "Status", "Question", "SQL", "Outcome"})
	for i := len(history) - 1; i >= 0; i-- {
		rec := history[i]
		outcome := rec.Summary
		if rec.Status == "failed" {
			outcome = rec.Error
		}
		table.Append([]string{rec.Timestamp.Local().Format(time.DateTime), rec.Status, rec.Question, rec.SQL, outcome})
	}
	table.Render()
}

// renderAudit keeps the server's newest-first order.
func renderAudit(w io.Writer, events []auditView) {
	if len(events) == 0 {
		_, _ = fmt.Fprintln(w, "no audit events")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Time", "Status", "Question", "SQL", "Rows", "Error Kind"})
	for _, event := range events {
		table.Append([]string{
			event.OccurredAt.Local().Format(time.DateTime),
			event.Status,
			event.Question,
			event.SQL,
			fmt.Sprintf("%d", event.RowCount),
			event.ErrorKind,
		})
	}
	table.Render()
}

func formatCell(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
