package database

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/chatdb/chatdb/internal/errs"
)

// Dialect names a supported SQL engine.
type Dialect string

const (
	SQLite Dialect = "sqlite"
	MySQL  Dialect = "mysql"
)

const DefaultMySQLPort = 3306

// DisplayName is the engine name used in prompts and UI labels.
func (d Dialect) DisplayName() string {
	switch d {
	case SQLite:
		return "SQLite"
	case MySQL:
		return "MySQL"
	default:
		return string(d)
	}
}

func ParseDialect(raw string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(raw))) {
	case SQLite:
		return SQLite, nil
	case MySQL:
		return MySQL, nil
	case "":
		return "", errs.New(errs.Validation, "database driver is required")
	default:
		return "", errs.New(errs.Validation, fmt.Sprintf("unsupported database driver %q", raw))
	}
}

// Descriptor identifies the target database of a session.
type Descriptor struct {
	Driver   Dialect `json:"driver"`
	Path     string  `json:"path,omitempty"`
	Host     string  `json:"host,omitempty"`
	Port     int     `json:"port,omitempty"`
	User     string  `json:"user,omitempty"`
	Password string  `json:"password,omitempty"`
	Database string  `json:"database,omitempty"`
}

// Normalize lower-cases the driver, trims fields and applies the MySQL
// default port.
func (d Descriptor) Normalize() Descriptor {
	d.Driver = Dialect(strings.ToLower(strings.TrimSpace(string(d.Driver))))
	d.Path = strings.TrimSpace(d.Path)
	d.Host = strings.TrimSpace(d.Host)
	d.User = strings.TrimSpace(d.User)
	d.Database = strings.TrimSpace(d.Database)
	if d.Driver == MySQL && d.Port == 0 {
		d.Port = DefaultMySQLPort
	}
	return d
}

func (d Descriptor) Validate() error {
	driver, err := ParseDialect(string(d.Driver))
	if err != nil {
		return err
	}
	switch driver {
	case SQLite:
		if strings.TrimSpace(d.Path) == "" {
			return errs.New(errs.Validation, "sqlite database path is required")
		}
	case MySQL:
		if strings.TrimSpace(d.Host) == "" {
			return errs.New(errs.Validation, "mysql host is required")
		}
		if strings.TrimSpace(d.User) == "" {
			return errs.New(errs.Validation, "mysql user is required")
		}
		if strings.TrimSpace(d.Database) == "" {
			return errs.New(errs.Validation, "mysql database name is required")
		}
		if d.Port < 0 || d.Port > 65535 {
			return errs.New(errs.Validation, fmt.Sprintf("mysql port %d is out of range", d.Port))
		}
	}
	return nil
}

// Redacted returns a copy safe to send to clients or logs.
func (d Descriptor) Redacted() Descriptor {
	d.Password = ""
	return d
}

// Label is a short human-readable identifier such as "sqlite:data/shop.db"
// or "mysql:root@localhost:3306/shop".
func (d Descriptor) Label() string {
	switch d.Driver {
	case SQLite:
		return "sqlite:" + d.Path
	case MySQL:
		return fmt.Sprintf("mysql:%s@%s/%s", d.User, net.JoinHostPort(d.Host, strconv.Itoa(d.Port)), d.Database)
	default:
		return string(d.Driver)
	}
}

// DSN returns the driver-specific data source name. The descriptor is
// expected to be normalized and valid.
func (d Descriptor) DSN() string {
	switch d.Driver {
	case SQLite:
		if d.Path == ":memory:" {
			return d.Path
		}
		return "file:" + d.Path + "?_busy_timeout=5000"
	case MySQL:
		cfg := mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		cfg.DBName = d.Database
		cfg.ParseTime = true
		cfg.Timeout = 5 * time.Second
		return cfg.FormatDSN()
	default:
		return ""
	}
}

func (d Descriptor) driverName() string {
	if d.Driver == SQLite {
		return "sqlite3"
	}
	return string(d.Driver)
}
