package query

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/chatdb/chatdb/internal/database"
	"github.com/chatdb/chatdb/internal/errs"
	"github.com/chatdb/chatdb/internal/sqltext"
)

// rowVerbs are the leading keywords of statements that return a result set.
var rowVerbs = map[string]struct{}{
	"select": {}, "with": {}, "show": {}, "pragma": {}, "explain": {},
	"describe": {}, "desc": {}, "values": {},
}

func returnsRows(stmt string) bool {
	_, ok := rowVerbs[sqltext.FirstKeyword(stmt)]
	return ok
}

// Executor runs one statement at a time against a caller-provided pool.
// With ReadOnly set, statements run inside a read-only transaction and, on
// SQLite, with query_only enabled, so the engine refuses writes the Guard
// did not recognise.
type Executor struct {
	MaxRows  int
	Timeout  time.Duration
	ReadOnly bool
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func NewExecutor(maxRows int, timeout time.Duration) *Executor {
	return &Executor{MaxRows: maxRows, Timeout: timeout}
}

func (e *Executor) Execute(ctx context.Context, db *sql.DB, sqlText string) (Result, error) {
	if db == nil {
		return Result{}, errs.New(errs.Connection, "no database connection")
	}
	statements := sqltext.Split(sqlText)
	switch len(statements) {
	case 0:
		return Result{}, errs.New(errs.Validation, "sql is required")
	case 1:
	default:
		return Result{}, errs.New(errs.Permission, "multiple statements are not allowed")
	}
	stmt := statements[0]

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	start := time.Now()
	var (
		result Result
		err    error
	)
	switch {
	case e.ReadOnly && !returnsRows(stmt):
		return Result{}, errs.New(errs.Permission, "only statements that return rows may run on a read-only connection")
	case e.ReadOnly:
		result, err = e.queryReadOnly(ctx, db, stmt)
	case returnsRows(stmt):
		result, err = e.queryRows(ctx, db, stmt)
	default:
		result, err = e.exec(ctx, db, stmt)
	}
	if err != nil {
		return Result{}, executionError(err)
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (e *Executor) queryReadOnly(ctx context.Context, db *sql.DB, stmt string) (Result, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = conn.Close() }()

	// The sqlite3 driver ignores TxOptions.ReadOnly; query_only is the
	// engine-level equivalent and is scoped to this pinned connection.
	if isSQLite(db) {
		if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			return Result{}, err
		}
		defer func() { _, _ = conn.ExecContext(context.Background(), "PRAGMA query_only = OFF") }()
	}

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = tx.Rollback() }()
	return e.queryRows(ctx, tx, stmt)
}

func isSQLite(db *sql.DB) bool {
	_, ok := db.Driver().(*sqlite3.SQLiteDriver)
	return ok
}

func (e *Executor) queryRows(ctx context.Context, db querier, stmt string) (Result, error) {
	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}

	limit := e.maxRows()
	result := Result{Kind: KindRows, Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if len(result.Rows) == limit {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, err
		}
		result.Rows = append(result.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	return result, nil
}

func (e *Executor) exec(ctx context.Context, db *sql.DB, stmt string) (Result, error) {
	res, err := db.ExecContext(ctx, stmt)
	if err != nil {
		return Result{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		// DDL on some drivers cannot report a count.
		affected = 0
	}
	return Result{Kind: KindExec, Columns: []string{}, Rows: [][]any{}, RowsAffected: affected}, nil
}

func (e *Executor) maxRows() int {
	if e.MaxRows <= 0 {
		return DefaultMaxRows
	}
	return e.MaxRows
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case time.Time:
			normalized[i] = typed.Format(time.RFC3339)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

// executionError keeps the engine's message verbatim; only the kind is
// decided here.
func executionError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.SQLExecution, "query timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.SQLExecution, "query canceled", err)
	}
	kind := database.ClassifyError(err, errs.SQLExecution)
	return errs.Wrap(kind, "", err)
}
