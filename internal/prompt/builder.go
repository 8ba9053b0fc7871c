// Package prompt turns a user question and a schema snapshot into the text
// sent to the SQL generator.
package prompt

import (
	"strings"
	"unicode/utf8"

	"github.com/chatdb/chatdb/internal/errs"
	"github.com/chatdb/chatdb/internal/schema"
)

const DefaultMinQuestionLength = 3

const instructions = `You are an expert SQL engineer. Given a database schema and a user's natural-language question,
write a clear, valid and production-ready SQL query for the connected database type and the provided schema.

Output format options:
1) A JSON object with keys "status" and "response":
   - "status": one of "success", "clarification_needed", "error"
   - "response": the SQL query as a single string, or a clarifying question or error message
2) A plain SQL statement (like SELECT ...;). Plain SQL is treated as success.

SQL style rules:
- Always give computed or aggregated columns an explicit alias, e.g. COUNT(*) AS total_employees, AVG(price) AS average_price.
- Use readable lowercase snake_case alias names that describe the value (total_orders, not result).
- Never leave unnamed columns such as count(*) or sum(price).
- Do not include explanations, markdown or commentary. Return only SQL or JSON.
- Return exactly one statement.
- If the question is ambiguous, respond with {"status": "clarification_needed", "response": "<your question>"}.

Examples of correct responses:
{"status": "success", "response": "SELECT department, COUNT(*) AS total_employees FROM employees GROUP BY department;"}
SELECT name, AVG(salary) AS average_salary FROM employees GROUP BY name;`

// Builder assembles prompts. The zero value uses DefaultMinQuestionLength.
type Builder struct {
	MinQuestionLength int
}

func NewBuilder(minQuestionLength int) *Builder {
	return &Builder{MinQuestionLength: minQuestionLength}
}

// ValidateQuestion trims the question and rejects empty or too-short input.
func (b *Builder) ValidateQuestion(question string) (string, error) {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return "", errs.New(errs.Validation, "question is empty")
	}
	if utf8.RuneCountInString(trimmed) < b.minLength() {
		return "", errs.New(errs.Validation, "please enter a meaningful question")
	}
	return trimmed, nil
}

// Build is a pure function of question and snapshot.
func (b *Builder) Build(question string, snap schema.Snapshot) (string, error) {
	trimmed, err := b.ValidateQuestion(question)
	if err != nil {
		return "", err
	}
	dialect := snap.Dialect.DisplayName()

	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString("\n\nConnected database type: ")
	sb.WriteString(dialect)
	sb.WriteString("\n\nSchema (DDL):\n")
	sb.WriteString(snap.PromptText())
	sb.WriteString("\n\nImportant: produce SQL compatible with ")
	sb.WriteString(dialect)
	sb.WriteString(". Output either a JSON object {\"status\": \"success\", \"response\": \"<SQL query>\"} or plain SQL, with no text around it.")
	sb.WriteString("\n\nUser Question:\n")
	sb.WriteString(trimmed)
	return sb.String(), nil
}

func (b *Builder) minLength() int {
	if b == nil || b.MinQuestionLength <= 0 {
		return DefaultMinQuestionLength
	}
	return b.MinQuestionLength
}
