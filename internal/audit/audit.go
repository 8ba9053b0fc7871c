// Package audit records answered questions in a durable store outside the
// in-memory session history. Recording is best effort: a failing sink never
// fails a question.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Event is one question turn as seen by the audit log.
type Event struct {
	RecordID     string        `json:"record_id"`
	SessionID    string        `json:"session_id"`
	Principal    string        `json:"principal"`
	Dialect      string        `json:"dialect"`
	Question     string        `json:"question"`
	SQL          string        `json:"sql,omitempty"`
	Status       string        `json:"status"`
	ErrorKind    string        `json:"error_kind,omitempty"`
	Error        string        `json:"error,omitempty"`
	Provider     string        `json:"provider,omitempty"`
	Model        string        `json:"model,omitempty"`
	RowCount     int           `json:"row_count"`
	RowsAffected int64         `json:"rows_affected"`
	Duration     time.Duration `json:"duration"`
	OccurredAt   time.Time     `json:"occurred_at"`
}

type Sink interface {
	Record(ctx context.Context, event Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// BestEffort wraps a sink with a write timeout and logs failures instead of
// returning them.
type BestEffort struct {
	sink    Sink
	timeout time.Duration
	logger  *slog.Logger
}

func NewBestEffort(sink Sink, timeout time.Duration, logger *slog.Logger) *BestEffort {
	if sink == nil {
		sink = Nop{}
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &BestEffort{sink: sink, timeout: timeout, logger: logger}
}

func (b *BestEffort) Record(ctx context.Context, event Event) error {
	// The request context may already be gone when a turn fails late.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()
	if err := b.sink.Record(writeCtx, event); err != nil {
		b.logger.Warn("audit record failed",
			slog.String("session_id", event.SessionID),
			slog.String("record_id", event.RecordID),
			slog.Any("error", err),
		)
	}
	return nil
}
