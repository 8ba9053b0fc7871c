package schema

import (
	"fmt"
	"strings"

	"github.com/chatdb/chatdb/internal/database"
)

// MarkdownFileName is the name offered when the schema is downloaded.
const MarkdownFileName = "database_schema.md"

const noTablesNotice = "No tables found in the connected database."

type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"not_null,omitempty"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
	DDL     string   `json:"ddl"`
}

// Snapshot is the schema of one database at one point in time. Tables are
// ordered by name.
type Snapshot struct {
	Dialect database.Dialect `json:"dialect"`
	Tables  []Table          `json:"tables"`
}

func (s Snapshot) Empty() bool { return len(s.Tables) == 0 }

// Markdown renders the downloadable schema document: one bold heading and
// one fenced sql block per table.
func (s Snapshot) Markdown() string {
	if s.Empty() {
		return noTablesNotice + "\n"
	}
	var b strings.Builder
	for _, table := range s.Tables {
		fmt.Fprintf(&b, "**%s table:**\n```sql\n%s\n```\n\n", table.Name, strings.TrimSpace(table.DDL))
	}
	return b.String()
}

// PromptText renders the DDL block embedded in model prompts.
func (s Snapshot) PromptText() string {
	if s.Empty() {
		return "-- " + noTablesNotice
	}
	parts := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		ddl := strings.TrimSpace(table.DDL)
		if !strings.HasSuffix(ddl, ";") {
			ddl += ";"
		}
		parts = append(parts, ddl)
	}
	return strings.Join(parts, "\n\n")
}

// synthesizeDDL builds a CREATE TABLE statement from column metadata for
// engines or tables where the catalog does not expose the original one.
func synthesizeDDL(dialect database.Dialect, table string, columns []Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", quoteIdent(dialect, table))
	var pk []string
	for i, col := range columns {
		fmt.Fprintf(&b, "  %s %s", quoteIdent(dialect, col.Name), col.Type)
		if col.NotNull {
			b.WriteString(" NOT NULL")
		}
		if col.PrimaryKey {
			pk = append(pk, quoteIdent(dialect, col.Name))
		}
		if i < len(columns)-1 || len(pk) > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	if len(pk) > 0 {
		fmt.Fprintf(&b, "  PRIMARY KEY (%s)\n", strings.Join(pk, ", "))
	}
	b.WriteString(")")
	return b.String()
}

func quoteIdent(dialect database.Dialect, name string) string {
	if dialect == database.MySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
