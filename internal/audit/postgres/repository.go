package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chatdb/chatdb/internal/audit"
)

// Repository stores audit events in the question_audit table created by the
// embedded migrations.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping audit db: %w", err)
	}
	return nil
}

func (r *Repository) Record(ctx context.Context, event audit.Event) error {
	query := `
INSERT INTO question_audit (
  record_id, session_id, principal, dialect, question, generated_sql, status,
  error_kind, error_message, provider, model, row_count, rows_affected, duration_ms, occurred_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (record_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query,
		event.RecordID,
		event.SessionID,
		event.Principal,
		event.Dialect,
		event.Question,
		nullString(event.SQL),
		event.Status,
		nullString(event.ErrorKind),
		nullString(event.Error),
		nullString(event.Provider),
		nullString(event.Model),
		event.RowCount,
		event.RowsAffected,
		event.Duration.Milliseconds(),
		event.OccurredAt,
	); err != nil {
		return fmt.Errorf("insert question audit: %w", err)
	}
	return nil
}

// ListBySession returns the newest events of a session first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT record_id, session_id, principal, dialect, question, COALESCE(generated_sql, ''), status,
       COALESCE(error_kind, ''), COALESCE(error_message, ''), COALESCE(provider, ''), COALESCE(model, ''),
       row_count, rows_affected, duration_ms, occurred_at
FROM question_audit
WHERE session_id = $1
ORDER BY occurred_at DESC
LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list question audit: %w", err)
	}
	defer rows.Close()

	events := make([]audit.Event, 0)
	for rows.Next() {
		var (
			event      audit.Event
			durationMS int64
		)
		if err := rows.Scan(
			&event.RecordID,
			&event.SessionID,
			&event.Principal,
			&event.Dialect,
			&event.Question,
			&event.SQL,
			&event.Status,
			&event.ErrorKind,
			&event.Error,
			&event.Provider,
			&event.Model,
			&event.RowCount,
			&event.RowsAffected,
			&durationMS,
			&event.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan question audit: %w", err)
		}
		event.Duration = msDuration(durationMS)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question audit: %w", err)
	}
	return events, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
