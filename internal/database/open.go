package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chatdb/chatdb/internal/errs"
)

const defaultPingTimeout = 5 * time.Second

// Conn is an open, pinged connection to a session's database.
type Conn struct {
	DB         *sql.DB
	Dialect    Dialect
	Descriptor Descriptor
}

func (c *Conn) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// Open validates the descriptor, opens the pool and pings it. A SQLite path
// must point at an existing file; the driver would otherwise create an empty
// database silently.
func Open(ctx context.Context, desc Descriptor) (*Conn, error) {
	desc = desc.Normalize()
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	if desc.Driver == SQLite && desc.Path != ":memory:" {
		info, err := os.Stat(desc.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, errs.Wrap(errs.Connection, fmt.Sprintf("sqlite database %q not found", desc.Path), err)
			}
			return nil, errs.Wrap(errs.Connection, "stat sqlite database", err)
		}
		if info.IsDir() {
			return nil, errs.New(errs.Connection, fmt.Sprintf("sqlite database %q is a directory", desc.Path))
		}
	}

	db, err := sql.Open(desc.driverName(), desc.DSN())
	if err != nil {
		return nil, errs.Wrap(errs.Connection, "open database", err)
	}
	switch desc.Driver {
	case SQLite:
		db.SetMaxOpenConns(1)
	case MySQL:
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.Connection, "could not connect to "+desc.Redacted().Label(), err)
	}

	return &Conn{DB: db, Dialect: desc.Driver, Descriptor: desc}, nil
}
