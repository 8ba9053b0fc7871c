package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/chatdb/chatdb/internal/audit"
)

func TestRecordInsertsEvent(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO question_audit (`)).
		WithArgs(
			"rec-1", "sess-1", "alice", "sqlite", "how many users",
			sql.NullString{String: "SELECT COUNT(*) AS user_count FROM users", Valid: true},
			"success",
			sql.NullString{}, sql.NullString{},
			sql.NullString{String: "gemini", Valid: true},
			sql.NullString{String: "gemini-2.5-flash", Valid: true},
			1, int64(0), int64(1500), at,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Record(context.Background(), audit.Event{
		RecordID:   "rec-1",
		SessionID:  "sess-1",
		Principal:  "alice",
		Dialect:    "sqlite",
		Question:   "how many users",
		SQL:        "SELECT COUNT(*) AS user_count FROM users",
		Status:     "success",
		Provider:   "gemini",
		Model:      "gemini-2.5-flash",
		RowCount:   1,
		Duration:   1500 * time.Millisecond,
		OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestRecordWrapsError(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO question_audit (`)).WillReturnError(errors.New("relation does not exist"))

	err := NewRepository(db).Record(context.Background(), audit.Event{RecordID: "r"})
	if err == nil {
		t.Fatal("expected error")
	}
	assertSQLMock(t, mock)
}

func TestListBySession(t *testing.T) {
	db, mock := newSQLMock(t)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM question_audit
WHERE session_id = $1`)).
		WithArgs("sess-1", 100).
		WillReturnRows(sqlmock.NewRows([]string{
			"record_id", "session_id", "principal", "dialect", "question", "generated_sql", "status",
			"error_kind", "error_message", "provider", "model", "row_count", "rows_affected", "duration_ms", "occurred_at",
		}).AddRow("rec-2", "sess-1", "alice", "mysql", "drop everything", "", "failed",
			"permission_error", "DROP statements are not allowed in read-only mode", "openai", "gpt-4o-mini", 0, int64(0), int64(250), at))

	events, err := NewRepository(db).ListBySession(context.Background(), "sess-1", 0)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d", len(events))
	}
	if events[0].ErrorKind != "permission_error" || events[0].Duration != 250*time.Millisecond {
		t.Fatalf("event = %+v", events[0])
	}
	assertSQLMock(t, mock)
}

func TestHealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	if err := NewRepository(db).HealthCheck(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
