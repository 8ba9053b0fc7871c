package database

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"

	"github.com/chatdb/chatdb/internal/errs"
)

// MySQL server error numbers that mean access was denied.
var mysqlPermissionErrors = map[uint16]struct{}{
	1044: {}, // ER_DBACCESS_DENIED_ERROR
	1045: {}, // ER_ACCESS_DENIED_ERROR
	1142: {}, // ER_TABLEACCESS_DENIED_ERROR
	1143: {}, // ER_COLUMNACCESS_DENIED_ERROR
	1227: {}, // ER_SPECIFIC_ACCESS_DENIED_ERROR
}

// MySQL server error numbers that mean the server is going away.
var mysqlConnectionErrors = map[uint16]struct{}{
	1040: {}, // ER_CON_COUNT_ERROR
	1053: {}, // ER_SERVER_SHUTDOWN
	1152: {}, // ER_ABORTING_CONNECTION
	1927: {}, // ER_CONNECTION_KILLED
}

// ClassifyError maps a driver error onto the error taxonomy. Errors that are
// neither connection nor permission failures are reported as fallback.
func ClassifyError(err error, fallback errs.Kind) errs.Kind {
	if err == nil {
		return fallback
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return errs.Connection
	}
	// database/sql does not export this one.
	if strings.Contains(err.Error(), "sql: database is closed") {
		return errs.Connection
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if _, ok := mysqlPermissionErrors[myErr.Number]; ok {
			return errs.Permission
		}
		if _, ok := mysqlConnectionErrors[myErr.Number]; ok {
			return errs.Connection
		}
		return fallback
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrAuth, sqlite3.ErrPerm:
			return errs.Permission
		case sqlite3.ErrCantOpen, sqlite3.ErrNotADB:
			return errs.Connection
		}
		return fallback
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return errs.Connection
	}
	return fallback
}
