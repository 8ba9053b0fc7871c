package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/chatdb/chatdb/internal/database"
	"github.com/chatdb/chatdb/internal/errs"
)

const (
	sqliteTablesQuery = `SELECT name, sql FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\' ORDER BY name`

	mysqlColumnsQuery = `SELECT c.table_name, c.column_name, c.column_type, c.is_nullable, c.column_key
FROM information_schema.columns c
JOIN information_schema.tables t ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = DATABASE() AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name, c.ordinal_position`
)

// Inspector reads table and column metadata from a live connection. It never
// writes to the database.
type Inspector struct{}

func NewInspector() *Inspector { return &Inspector{} }

func (i *Inspector) Inspect(ctx context.Context, db *sql.DB, dialect database.Dialect) (Snapshot, error) {
	if db == nil {
		return Snapshot{}, errs.New(errs.Connection, "no database connection")
	}
	if err := db.PingContext(ctx); err != nil {
		return Snapshot{}, errs.Wrap(errs.Connection, "database is unreachable", err)
	}

	var (
		tables []Table
		err    error
	)
	switch dialect {
	case database.SQLite:
		tables, err = inspectSQLite(ctx, db)
	case database.MySQL:
		tables, err = inspectMySQL(ctx, db)
	default:
		return Snapshot{}, errs.New(errs.Validation, fmt.Sprintf("unsupported dialect %q", dialect))
	}
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Dialect: dialect, Tables: tables}, nil
}

func inspectSQLite(ctx context.Context, db *sql.DB) ([]Table, error) {
	rows, err := db.QueryContext(ctx, sqliteTablesQuery)
	if err != nil {
		return nil, catalogError("list sqlite tables", err)
	}
	var tables []Table
	for rows.Next() {
		var (
			name string
			ddl  sql.NullString
		)
		if err := rows.Scan(&name, &ddl); err != nil {
			_ = rows.Close()
			return nil, catalogError("scan sqlite table", err)
		}
		tables = append(tables, Table{Name: name, DDL: ddl.String})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, catalogError("iterate sqlite tables", err)
	}
	_ = rows.Close()

	// Columns are read after the table cursor is closed: SQLite connections
	// are capped at one, so a nested query would wait forever.
	for idx := range tables {
		columns, err := sqliteColumns(ctx, db, tables[idx].Name)
		if err != nil {
			return nil, err
		}
		tables[idx].Columns = columns
		if strings.TrimSpace(tables[idx].DDL) == "" {
			tables[idx].DDL = synthesizeDDL(database.SQLite, tables[idx].Name, columns)
		}
	}
	return tables, nil
}

func sqliteColumns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(database.SQLite, table)+")")
	if err != nil {
		return nil, catalogError("read columns of "+table, err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var (
			cid      int
			name     string
			colType  string
			notNull  int
			defValue sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defValue, &pk); err != nil {
			return nil, catalogError("scan column of "+table, err)
		}
		columns = append(columns, Column{Name: name, Type: colType, NotNull: notNull != 0, PrimaryKey: pk > 0})
	}
	if err := rows.Err(); err != nil {
		return nil, catalogError("iterate columns of "+table, err)
	}
	return columns, nil
}

func inspectMySQL(ctx context.Context, db *sql.DB) ([]Table, error) {
	rows, err := db.QueryContext(ctx, mysqlColumnsQuery)
	if err != nil {
		return nil, catalogError("read information_schema", err)
	}
	var tables []Table
	for rows.Next() {
		var tableName, columnName, columnType, nullable, key string
		if err := rows.Scan(&tableName, &columnName, &columnType, &nullable, &key); err != nil {
			_ = rows.Close()
			return nil, catalogError("scan information_schema row", err)
		}
		if len(tables) == 0 || tables[len(tables)-1].Name != tableName {
			tables = append(tables, Table{Name: tableName})
		}
		current := &tables[len(tables)-1]
		current.Columns = append(current.Columns, Column{
			Name:       columnName,
			Type:       columnType,
			NotNull:    strings.EqualFold(nullable, "NO"),
			PrimaryKey: strings.EqualFold(key, "PRI"),
		})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, catalogError("iterate information_schema", err)
	}
	_ = rows.Close()

	for idx := range tables {
		ddl, err := mysqlCreateTable(ctx, db, tables[idx].Name)
		if err != nil {
			if errs.Is(err, errs.Connection) {
				return nil, err
			}
			ddl = synthesizeDDL(database.MySQL, tables[idx].Name, tables[idx].Columns)
		}
		tables[idx].DDL = ddl
	}
	return tables, nil
}

func mysqlCreateTable(ctx context.Context, db *sql.DB, table string) (string, error) {
	var name, ddl string
	err := db.QueryRowContext(ctx, "SHOW CREATE TABLE "+quoteIdent(database.MySQL, table)).Scan(&name, &ddl)
	if err != nil {
		return "", catalogError("show create table "+table, err)
	}
	return ddl, nil
}

func catalogError(step string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.Connection, step, err)
	}
	kind := database.ClassifyError(err, errs.SQLExecution)
	if kind == errs.Permission {
		return errs.Wrap(kind, "catalog access denied", err)
	}
	return errs.Wrap(kind, step, err)
}
