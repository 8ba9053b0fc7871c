// Package sqltext does lexical work on SQL strings: statement splitting and
// keyword detection. It understands quotes and comments but does not parse
// SQL.
package sqltext

import (
	"strings"
	"unicode"
)

// walk calls bare for every rune outside string literals, quoted
// identifiers and comments, and gap once for every quoted or commented span.
// bare returns false to stop the walk.
func walk(runes []rune, bare func(i int, r rune) bool, gap func()) {
	var quote rune
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if quote != 0 {
			if r == '\\' && quote != '`' && i+1 < len(runes) {
				i++
				continue
			}
			if r == quote {
				// doubled quote is an escaped quote
				if i+1 < len(runes) && runes[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
			continue
		}
		switch {
		case r == '\'' || r == '"' || r == '`':
			gap()
			quote = r
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-', r == '#':
			gap()
			for i+1 < len(runes) && runes[i+1] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			gap()
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++
		default:
			if !bare(i, r) {
				return
			}
		}
	}
}

// Split returns the non-empty statements of sql, trimmed and without their
// terminating semicolons. Semicolons inside string literals, quoted
// identifiers and comments do not terminate a statement.
func Split(sql string) []string {
	var (
		statements []string
		start      int
	)
	runes := []rune(sql)
	emit := func(end int) {
		stmt := strings.TrimSpace(string(runes[start:end]))
		if stripComments(stmt) != "" {
			statements = append(statements, stmt)
		}
	}
	walk(runes, func(i int, r rune) bool {
		if r == ';' {
			emit(i)
			start = i + 1
		}
		return true
	}, func() {})
	if start < len(runes) {
		emit(len(runes))
	}
	return statements
}

// Words returns the lower-cased bare words of stmt in order.
func Words(stmt string) []string {
	var (
		words []string
		word  []rune
	)
	flush := func() {
		if len(word) > 0 {
			words = append(words, strings.ToLower(string(word)))
			word = word[:0]
		}
	}
	walk([]rune(stmt), func(_ int, r rune) bool {
		if unicode.IsLetter(r) || r == '_' || (len(word) > 0 && unicode.IsDigit(r)) {
			word = append(word, r)
		} else {
			flush()
		}
		return true
	}, flush)
	flush()
	return words
}

// IndexBare returns the rune index of the first rune of stmt that is one of
// chars and sits outside quotes and comments, or -1.
func IndexBare(stmt string, chars string) int {
	at := -1
	walk([]rune(stmt), func(i int, r rune) bool {
		if strings.ContainsRune(chars, r) {
			at = i
			return false
		}
		return true
	}, func() {})
	return at
}

// FirstKeyword returns the lower-cased leading keyword of stmt, skipping
// whitespace, comments and opening parentheses.
func FirstKeyword(stmt string) string {
	rest := strings.TrimLeftFunc(stripComments(stmt), func(r rune) bool {
		return unicode.IsSpace(r) || r == '('
	})
	end := strings.IndexFunc(rest, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '_'
	})
	if end < 0 {
		end = len(rest)
	}
	return strings.ToLower(rest[:end])
}

// stripComments removes leading comments only.
func stripComments(stmt string) string {
	for {
		stmt = strings.TrimSpace(stmt)
		switch {
		case strings.HasPrefix(stmt, "--"), strings.HasPrefix(stmt, "#"):
			idx := strings.IndexByte(stmt, '\n')
			if idx < 0 {
				return ""
			}
			stmt = stmt[idx+1:]
		case strings.HasPrefix(stmt, "/*"):
			idx := strings.Index(stmt, "*/")
			if idx < 0 {
				return ""
			}
			stmt = stmt[idx+2:]
		default:
			return stmt
		}
	}
}
