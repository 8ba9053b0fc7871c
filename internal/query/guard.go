package query

import (
	"fmt"
	"strings"

	"github.com/chatdb/chatdb/internal/errs"
	"github.com/chatdb/chatdb/internal/sqltext"
)

// Policy decides which generated statements may reach the database.
type Policy string

const (
	// PolicyReadOnly admits only statements that read.
	PolicyReadOnly Policy = "read_only"
	// PolicyUnrestricted admits any single statement.
	PolicyUnrestricted Policy = "unrestricted"
)

// writeWord returns the word that makes an otherwise row-returning statement
// write or touch files, or "". INSERT and REPLACE only count when followed
// by INTO since both are also string functions; FOR UPDATE is a locking read.
func writeWord(words []string) string {
	for i, word := range words {
		next, prev := "", ""
		if i+1 < len(words) {
			next = words[i+1]
		}
		if i > 0 {
			prev = words[i-1]
		}
		switch word {
		case "insert", "replace":
			if next == "into" {
				return word
			}
		case "update":
			if prev != "for" {
				return word
			}
		case "delete", "outfile", "dumpfile":
			return word
		}
	}
	return ""
}

// objectPragmas take a schema object as their argument and only read.
var objectPragmas = map[string]bool{
	"table_info": true, "table_xinfo": true, "table_list": true,
	"index_list": true, "index_info": true, "index_xinfo": true,
	"foreign_key_list": true, "foreign_key_check": true,
	"integrity_check": true, "quick_check": true,
}

// statusPragmas only read when called without an argument; with one, most
// of them change the database or the connection.
var statusPragmas = map[string]bool{
	"user_version": true, "application_id": true, "schema_version": true,
	"data_version": true, "page_count": true, "page_size": true,
	"freelist_count": true, "encoding": true, "journal_mode": true,
	"foreign_keys": true, "auto_vacuum": true, "database_list": true,
	"collation_list": true, "function_list": true, "module_list": true,
	"pragma_list": true, "compile_options": true,
}

// checkPragma admits only reading pragmas. SQLite accepts both
// "PRAGMA name = value" and "PRAGMA name(value)" as assignments, so the
// name is taken from the text before the first bare '=' or '('.
func checkPragma(stmt string) error {
	head := stmt
	cut := sqltext.IndexBare(stmt, "=(")
	if cut >= 0 {
		head = string([]rune(stmt)[:cut])
	}
	words := sqltext.Words(head)
	if len(words) < 2 {
		return errs.New(errs.Permission, "PRAGMA statement is not allowed in read-only mode")
	}
	name := words[len(words)-1]

	switch {
	case cut >= 0 && []rune(stmt)[cut] == '=':
		return errs.New(errs.Permission, "PRAGMA assignments are not allowed in read-only mode")
	case cut >= 0 && !objectPragmas[name]:
		return errs.New(errs.Permission, fmt.Sprintf("PRAGMA %s with an argument is not allowed in read-only mode", name))
	case cut < 0 && !objectPragmas[name] && !statusPragmas[name]:
		return errs.New(errs.Permission, fmt.Sprintf("PRAGMA %s is not allowed in read-only mode", name))
	}
	return nil
}

type Guard struct {
	Policy Policy
}

func NewGuard(policy string) (*Guard, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(policy))); p {
	case PolicyReadOnly, PolicyUnrestricted:
		return &Guard{Policy: p}, nil
	case "":
		return &Guard{Policy: PolicyReadOnly}, nil
	default:
		return nil, fmt.Errorf("unknown statement policy %q", policy)
	}
}

// Check rejects sql the policy does not admit. It never touches a database.
func (g *Guard) Check(sqlText string) error {
	statements := sqltext.Split(sqlText)
	if len(statements) == 0 {
		return errs.New(errs.Validation, "sql is required")
	}
	if len(statements) > 1 {
		return errs.New(errs.Permission, "multiple statements are not allowed")
	}
	if g == nil || g.Policy == PolicyUnrestricted {
		return nil
	}

	stmt := statements[0]
	verb := sqltext.FirstKeyword(stmt)
	if !returnsRows(stmt) {
		return errs.New(errs.Permission, fmt.Sprintf("%s statements are not allowed in read-only mode", strings.ToUpper(verb)))
	}
	if verb == "pragma" {
		if err := checkPragma(stmt); err != nil {
			return err
		}
	}
	if word := writeWord(sqltext.Words(stmt)); word != "" {
		return errs.New(errs.Permission, fmt.Sprintf("statements containing %s are not allowed in read-only mode", strings.ToUpper(word)))
	}
	return nil
}
