package chat

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chatdb/chatdb/internal/audit"
	"github.com/chatdb/chatdb/internal/database"
	"github.com/chatdb/chatdb/internal/errs"
	"github.com/chatdb/chatdb/internal/nl2sql"
	"github.com/chatdb/chatdb/internal/query"
	"github.com/chatdb/chatdb/internal/schema"
	"github.com/chatdb/chatdb/internal/session"
)

type fakeGenerator struct {
	mu      sync.Mutex
	sql     string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (nl2sql.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nl2sql.Result{}, f.err
	}
	return nl2sql.Result{SQL: f.sql, Provider: "fake", Model: "fake-1"}, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingSink) Record(_ context.Context, event audit.Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open seed db: %v", err)
	}
	defer db.Close()
	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`INSERT INTO users (name) VALUES ('ada'), ('grace'), ('linus')`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}
	return path
}

func connectedSession(t *testing.T) *session.Session {
	t.Helper()
	sess := session.New("s1", "alice", nil, time.Now())
	t.Cleanup(func() { _ = sess.Close() })
	if err := sess.Connect(context.Background(), database.Descriptor{Driver: database.SQLite, Path: seedDatabase(t)}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return sess
}

func countUsers(t *testing.T, sess *session.Session) int {
	t.Helper()
	var n int
	if err := sess.Conn().DB.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		t.Fatalf("count users: %v", err)
	}
	return n
}

func TestAskCountQuestionReturnsSingleCell(t *testing.T) {
	sess := connectedSession(t)
	gen := &fakeGenerator{sql: "SELECT COUNT(*) FROM users;"}
	sink := &recordingSink{}
	svc := NewService(Dependencies{Generator: gen, Audit: sink})

	turn, err := svc.Ask(context.Background(), sess, "how many rows are in table users")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if turn.Result == nil || len(turn.Result.Columns) != 1 || len(turn.Result.Rows) != 1 {
		t.Fatalf("result = %+v, want one row and one column", turn.Result)
	}
	if got := turn.Result.Rows[0][0]; got != int64(3) {
		t.Fatalf("count = %#v, want 3", got)
	}
	if turn.Record.Status != session.StatusSuccess || turn.Record.SQL != "SELECT COUNT(*) FROM users;" {
		t.Fatalf("record = %+v", turn.Record)
	}
	if turn.Record.ID == "" || turn.Record.Timestamp.IsZero() {
		t.Fatalf("record was not prepared: %+v", turn.Record)
	}
	if history := sess.History(); len(history) != 1 {
		t.Fatalf("history len = %d, want 1", len(history))
	}
	if sess.State() != session.StateIdle {
		t.Fatalf("State = %q, want idle", sess.State())
	}
	if last := sess.LastTurn(); last == nil || last.Record.ID != turn.Record.ID {
		t.Fatalf("LastTurn = %+v", last)
	}
	if len(sink.events) != 1 || sink.events[0].Status != "success" || sink.events[0].Principal != "alice" {
		t.Fatalf("audit events = %+v", sink.events)
	}
}

func TestAskPromptCarriesSchemaAndQuestion(t *testing.T) {
	sess := connectedSession(t)
	gen := &fakeGenerator{sql: "SELECT name FROM users"}
	svc := NewService(Dependencies{Generator: gen})

	if _, err := svc.Ask(context.Background(), sess, "  list every user  "); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if _, err := svc.Ask(context.Background(), sess, "list every user"); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(gen.prompts) != 2 {
		t.Fatalf("prompts = %d", len(gen.prompts))
	}
	if gen.prompts[0] != gen.prompts[1] {
		t.Fatal("prompt is not deterministic for the same question and schema")
	}
	for _, want := range []string{"CREATE TABLE users", "SQLite", "list every user"} {
		if !strings.Contains(gen.prompts[0], want) {
			t.Fatalf("prompt missing %q:\n%s", want, gen.prompts[0])
		}
	}
}

type failingInspector struct{ err error }

func (f failingInspector) Inspect(context.Context, *sql.DB, database.Dialect) (schema.Snapshot, error) {
	return schema.Snapshot{}, f.err
}

func TestAskAppendsExactlyOneRecordPerOutcome(t *testing.T) {
	tests := []struct {
		name      string
		question  string
		deps      Dependencies
		wantKind  errs.Kind
		wantSQL   string
		generated bool
	}{
		{
			name:      "success",
			question:  "show all users",
			deps:      Dependencies{Generator: &fakeGenerator{sql: "SELECT * FROM users"}},
			wantSQL:   "SELECT * FROM users",
			generated: true,
		},
		{
			name:     "question too short",
			question: "ab",
			deps:     Dependencies{Generator: &fakeGenerator{sql: "SELECT 1"}},
			wantKind: errs.Validation,
		},
		{
			name:     "schema inspection loses the connection",
			question: "show all users",
			deps: Dependencies{
				Generator: &fakeGenerator{sql: "SELECT 1"},
				Inspector: failingInspector{err: errs.Wrap(errs.Connection, "database is unreachable", sql.ErrConnDone)},
			},
			wantKind: errs.Connection,
		},
		{
			name:      "model unreachable",
			question:  "show all users",
			deps:      Dependencies{Generator: &fakeGenerator{err: errs.New(errs.Upstream, "model API unreachable")}},
			wantKind:  errs.Upstream,
			generated: true,
		},
		{
			name:     "no generator configured",
			question: "show all users",
			deps:     Dependencies{},
			wantKind: errs.Upstream,
		},
		{
			name:      "model asks for clarification",
			question:  "show the important ones",
			deps:      Dependencies{Generator: &fakeGenerator{err: errs.New(errs.Extraction, "which table do you mean?")}},
			wantKind:  errs.Extraction,
			generated: true,
		},
		{
			name:      "read-only policy rejects a write",
			question:  "remove every user",
			deps:      Dependencies{Generator: &fakeGenerator{sql: "DELETE FROM users"}},
			wantKind:  errs.Permission,
			wantSQL:   "DELETE FROM users",
			generated: true,
		},
		{
			name:      "missing table",
			question:  "show all orders",
			deps:      Dependencies{Generator: &fakeGenerator{sql: "SELECT * FROM orders"}},
			wantKind:  errs.SQLExecution,
			wantSQL:   "SELECT * FROM orders",
			generated: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := connectedSession(t)
			sink := &recordingSink{}
			tt.deps.Audit = sink
			svc := NewService(tt.deps)

			turn, err := svc.Ask(context.Background(), sess, tt.question)
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("Ask() error = %v", err)
				}
			} else if !errs.Is(err, tt.wantKind) {
				t.Fatalf("Ask() error = %v, want %s", err, tt.wantKind)
			}

			history := sess.History()
			if len(history) != 1 {
				t.Fatalf("history len = %d, want 1", len(history))
			}
			got := history[0]
			wantStatus := session.StatusSuccess
			if tt.wantKind != "" {
				wantStatus = session.StatusFailed
			}
			if got.Status != wantStatus || got.ErrorKind != string(tt.wantKind) {
				t.Fatalf("record status = %q kind = %q, want %q %q", got.Status, got.ErrorKind, wantStatus, tt.wantKind)
			}
			if got.Question != strings.TrimSpace(tt.question) || got.SQL != tt.wantSQL {
				t.Fatalf("record = %+v", got)
			}
			if turn.Record.ID != got.ID {
				t.Fatalf("turn record = %+v, history record = %+v", turn.Record, got)
			}
			if gen, ok := tt.deps.Generator.(*fakeGenerator); ok && (len(gen.prompts) > 0) != tt.generated {
				t.Fatalf("generator called = %v, want %v", len(gen.prompts) > 0, tt.generated)
			}
			if sess.State() != session.StateIdle {
				t.Fatalf("State = %q, want idle", sess.State())
			}
			if len(sink.events) != 1 {
				t.Fatalf("audit events = %d, want 1", len(sink.events))
			}
			if countUsers(t, sess) != 3 {
				t.Fatal("database changed")
			}
		})
	}
}

func TestAskRepeatedSubmissionsGrowHistoryByOne(t *testing.T) {
	sess := connectedSession(t)
	svc := NewService(Dependencies{Generator: &fakeGenerator{sql: "SELECT * FROM users"}})

	for i, question := range []string{"show all users", "ab", "show all users"} {
		_, _ = svc.Ask(context.Background(), sess, question)
		if got := len(sess.History()); got != i+1 {
			t.Fatalf("history len after %d asks = %d", i+1, got)
		}
	}
}

func TestAskReadOnlyPolicyRejectsPragmaWrites(t *testing.T) {
	for _, stmt := range []string{
		"PRAGMA user_version(42)",
		"PRAGMA user_version = 42",
		"PRAGMA main.user_version(42)",
	} {
		t.Run(stmt, func(t *testing.T) {
			sess := connectedSession(t)
			svc := NewService(Dependencies{Generator: &fakeGenerator{sql: stmt}})

			_, err := svc.Ask(context.Background(), sess, "bump the schema version")
			if !errs.Is(err, errs.Permission) {
				t.Fatalf("Ask() error = %v, want permission error", err)
			}
			var version int
			if err := sess.Conn().DB.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
				t.Fatalf("read user_version: %v", err)
			}
			if version != 0 {
				t.Fatalf("user_version = %d, want 0", version)
			}
		})
	}
}

func TestAskBlankQuestionLeavesHistoryUnchanged(t *testing.T) {
	sess := connectedSession(t)
	gen := &fakeGenerator{sql: "SELECT 1"}
	svc := NewService(Dependencies{Generator: gen})

	for _, question := range []string{"", "   ", "\t\n"} {
		_, err := svc.Ask(context.Background(), sess, question)
		if !errs.Is(err, errs.Validation) {
			t.Fatalf("Ask(%q) error = %v, want validation error", question, err)
		}
	}
	if len(sess.History()) != 0 {
		t.Fatalf("history = %+v, want empty", sess.History())
	}
	if len(gen.prompts) != 0 {
		t.Fatalf("generator called %d times", len(gen.prompts))
	}
}

func TestAskWithoutConnectionIsConnectionError(t *testing.T) {
	sess := session.New("s1", "alice", nil, time.Now())
	t.Cleanup(func() { _ = sess.Close() })
	svc := NewService(Dependencies{Generator: &fakeGenerator{sql: "SELECT 1"}})

	_, err := svc.Ask(context.Background(), sess, "how many users are there")
	if !errs.Is(err, errs.Connection) {
		t.Fatalf("Ask() error = %v, want connection error", err)
	}
	if len(sess.History()) != 0 {
		t.Fatal("history should be unchanged without a connection")
	}
}

func TestAskUpstreamFailureAppendsFailedRecord(t *testing.T) {
	sess := connectedSession(t)
	gen := &fakeGenerator{err: errs.Wrap(errs.Upstream, "model API unreachable", errors.New("dial tcp: connection refused"))}
	sink := &recordingSink{}
	svc := NewService(Dependencies{Generator: gen, Audit: sink})

	turn, err := svc.Ask(context.Background(), sess, "how many users are there")
	if !errs.Is(err, errs.Upstream) {
		t.Fatalf("Ask() error = %v, want upstream error", err)
	}
	history := sess.History()
	if len(history) != 1 {
		t.Fatalf("history len = %d, want 1", len(history))
	}
	failed := history[0]
	if failed.Status != session.StatusFailed || failed.ErrorKind != string(errs.Upstream) || failed.SQL != "" {
		t.Fatalf("failed record = %+v", failed)
	}
	if turn.Record.ID != failed.ID || turn.Result != nil {
		t.Fatalf("turn = %+v", turn)
	}
	if sess.State() != session.StateIdle {
		t.Fatalf("State = %q, want idle after reporting", sess.State())
	}
	if countUsers(t, sess) != 3 {
		t.Fatal("database changed after an upstream failure")
	}
	if len(sink.events) != 1 || sink.events[0].ErrorKind != string(errs.Upstream) {
		t.Fatalf("audit events = %+v", sink.events)
	}
}

func TestAskMissingTableIsSQLExecutionError(t *testing.T) {
	sess := connectedSession(t)
	svc := NewService(Dependencies{Generator: &fakeGenerator{sql: "SELECT * FROM orders"}})

	turn, err := svc.Ask(context.Background(), sess, "show all orders")
	if !errs.Is(err, errs.SQLExecution) {
		t.Fatalf("Ask() error = %v, want sql execution error", err)
	}
	if !strings.Contains(turn.Record.Error, "no such table: orders") {
		t.Fatalf("record error = %q, want engine message", turn.Record.Error)
	}
	if turn.Record.SQL != "SELECT * FROM orders" {
		t.Fatalf("record SQL = %q", turn.Record.SQL)
	}
	if len(sess.History()) != 1 || countUsers(t, sess) != 3 {
		t.Fatal("unexpected history or database change")
	}
}

func TestAskReadOnlyPolicyRejectsWrites(t *testing.T) {
	sess := connectedSession(t)
	svc := NewService(Dependencies{Generator: &fakeGenerator{sql: "DELETE FROM users"}})

	_, err := svc.Ask(context.Background(), sess, "remove every user")
	if !errs.Is(err, errs.Permission) {
		t.Fatalf("Ask() error = %v, want permission error", err)
	}
	if countUsers(t, sess) != 3 {
		t.Fatal("write reached the database under the read-only policy")
	}
	if len(sess.History()) != 1 {
		t.Fatal("rejected statement should still be recorded")
	}
}

func TestAskUnrestrictedPolicyExecutesWrites(t *testing.T) {
	sess := connectedSession(t)
	svc := NewService(Dependencies{
		Generator: &fakeGenerator{sql: "DELETE FROM users WHERE name = 'ada'"},
		Guard:     &query.Guard{Policy: query.PolicyUnrestricted},
	})

	turn, err := svc.Ask(context.Background(), sess, "remove the user ada")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if turn.Result.Kind != query.KindExec || turn.Result.RowsAffected != 1 {
		t.Fatalf("result = %+v", turn.Result)
	}
	if countUsers(t, sess) != 2 {
		t.Fatal("delete did not run")
	}
}

func TestAskReadOnlyIsIdempotent(t *testing.T) {
	sess := connectedSession(t)
	svc := NewService(Dependencies{Generator: &fakeGenerator{sql: "SELECT id, name FROM users ORDER BY id"}})

	first, err := svc.Ask(context.Background(), sess, "list users by id")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	second, err := svc.Ask(context.Background(), sess, "list users by id")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(first.Result.Rows) != len(second.Result.Rows) {
		t.Fatalf("row counts differ: %d vs %d", len(first.Result.Rows), len(second.Result.Rows))
	}
	for i := range first.Result.Rows {
		for j := range first.Result.Rows[i] {
			if first.Result.Rows[i][j] != second.Result.Rows[i][j] {
				t.Fatalf("row %d col %d differs: %#v vs %#v", i, j, first.Result.Rows[i][j], second.Result.Rows[i][j])
			}
		}
	}
}

func TestAskBusySessionTimesOut(t *testing.T) {
	sess := connectedSession(t)
	svc := NewService(Dependencies{Generator: &fakeGenerator{sql: "SELECT 1"}})

	release, err := sess.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.Ask(ctx, sess, "how many users are there")
	if !errs.Is(err, errs.Busy) {
		t.Fatalf("Ask() error = %v, want busy", err)
	}
	if len(sess.History()) != 0 {
		t.Fatal("busy submission should not be recorded")
	}
}

func TestResetClearsHistoryAndKeepsConnection(t *testing.T) {
	sess := connectedSession(t)
	svc := NewService(Dependencies{Generator: &fakeGenerator{sql: "SELECT 1"}})
	if _, err := svc.Ask(context.Background(), sess, "select the number one"); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	conn := sess.Conn()

	if err := svc.Reset(context.Background(), sess); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if len(sess.History()) != 0 || sess.LastTurn() != nil {
		t.Fatal("reset did not clear history")
	}
	if sess.Conn() != conn {
		t.Fatal("reset replaced the connection")
	}
	if countUsers(t, sess) != 3 {
		t.Fatal("connection unusable after reset")
	}
}

func TestSchemaRequiresConnection(t *testing.T) {
	svc := NewService(Dependencies{})
	sess := session.New("s1", "alice", nil, time.Now())
	t.Cleanup(func() { _ = sess.Close() })
	if _, err := svc.Schema(context.Background(), sess); !errs.Is(err, errs.Connection) {
		t.Fatalf("Schema() error = %v, want connection error", err)
	}

	sess = connectedSession(t)
	snap, err := svc.Schema(context.Background(), sess)
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	if len(snap.Tables) != 1 || snap.Tables[0].Name != "users" {
		t.Fatalf("Tables = %+v", snap.Tables)
	}
}

func TestConnectFailureKeepsSessionUsable(t *testing.T) {
	sess := connectedSession(t)
	svc := NewService(Dependencies{})

	err := svc.Connect(context.Background(), sess, database.Descriptor{Driver: database.SQLite, Path: filepath.Join(t.TempDir(), "missing.db")})
	if !errs.Is(err, errs.Connection) {
		t.Fatalf("Connect() error = %v, want connection error", err)
	}
	if sess.Conn() == nil || countUsers(t, sess) != 3 {
		t.Fatal("previous connection lost")
	}
}
