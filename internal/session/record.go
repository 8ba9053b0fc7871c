package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/chatdb/chatdb/internal/query"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Record is one history entry. It is never modified after Append.
type Record struct {
	ID           string        `json:"id"`
	Question     string        `json:"question"`
	SQL          string        `json:"sql,omitempty"`
	Status       Status        `json:"status"`
	ErrorKind    string        `json:"error_kind,omitempty"`
	Error        string        `json:"error,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	RowCount     int           `json:"row_count"`
	RowsAffected int64         `json:"rows_affected"`
	Provider     string        `json:"provider,omitempty"`
	Model        string        `json:"model,omitempty"`
	Duration     time.Duration `json:"duration"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Prepare fills in the id and timestamp when they are unset.
func (r *Record) Prepare(now time.Time) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = now.UTC()
	}
}

// Turn is the outcome of the most recent question, shown below the input.
type Turn struct {
	Record Record        `json:"record"`
	Result *query.Result `json:"result,omitempty"`
}
