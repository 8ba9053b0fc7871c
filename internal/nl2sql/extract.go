package nl2sql

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/chatdb/chatdb/internal/errs"
	"github.com/chatdb/chatdb/internal/sqltext"
)

const (
	statusSuccess       = "success"
	statusClarification = "clarification_needed"
	statusError         = "error"
)

var fencePattern = regexp.MustCompile("(?i)```(?:json|sql)?")

var sqlVerbs = map[string]struct{}{
	"select": {}, "with": {}, "show": {}, "insert": {}, "update": {}, "delete": {}, "replace": {},
	"create": {}, "drop": {}, "alter": {}, "pragma": {}, "describe": {}, "explain": {},
}

// ExtractSQL pulls the first SQL statement out of a model answer. The answer
// may be a JSON envelope {"status", "response"} or plain SQL, optionally
// wrapped in markdown fences.
func ExtractSQL(text string) (string, error) {
	cleaned := strings.TrimSpace(fencePattern.ReplaceAllString(text, ""))
	if len(cleaned) >= 4 && strings.EqualFold(cleaned[:4], "sql ") {
		cleaned = strings.TrimSpace(cleaned[4:])
	}
	if cleaned == "" {
		return "", errs.New(errs.Extraction, "model returned an empty response")
	}

	if strings.HasPrefix(cleaned, "{") {
		var envelope map[string]any
		if err := json.Unmarshal([]byte(cleaned), &envelope); err == nil {
			return fromEnvelope(envelope, cleaned)
		}
	}
	return firstStatement(cleaned, cleaned)
}

func fromEnvelope(envelope map[string]any, raw string) (string, error) {
	status, okStatus := envelope["status"].(string)
	response, okResponse := envelope["response"].(string)
	if !okStatus || !okResponse {
		return "", errs.New(errs.Extraction, "model returned JSON without status and response: "+truncate(raw, maxErrorBodySize))
	}
	switch strings.ToLower(strings.TrimSpace(status)) {
	case statusSuccess:
		return firstStatement(strings.TrimSpace(fencePattern.ReplaceAllString(response, "")), raw)
	case statusClarification:
		return "", errs.New(errs.Extraction, "clarification needed: "+strings.TrimSpace(response))
	case statusError:
		return "", errs.New(errs.Extraction, "model could not answer: "+strings.TrimSpace(response))
	default:
		return "", errs.New(errs.Extraction, "model returned unknown status "+status)
	}
}

func firstStatement(candidate, raw string) (string, error) {
	statements := sqltext.Split(candidate)
	if len(statements) == 0 {
		return "", errs.New(errs.Extraction, "model returned no SQL")
	}
	if _, ok := sqlVerbs[sqltext.FirstKeyword(statements[0])]; !ok {
		return "", errs.New(errs.Extraction, "model returned unexpected format: "+truncate(raw, maxErrorBodySize))
	}
	return statements[0], nil
}
