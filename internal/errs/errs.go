// Package errs defines the error taxonomy shared by the question pipeline.
// Components wrap low-level failures into an *E carrying a Kind so that the
// presentation layer can map every failure to a user-visible message and an
// HTTP status without inspecting driver or transport errors.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// Connection indicates a bad, closed or unreachable database.
	Connection Kind = "connection_error"
	// Validation indicates empty or malformed user input.
	Validation Kind = "validation_error"
	// Upstream indicates a model API failure (network, auth, rate limit).
	Upstream Kind = "upstream_error"
	// Extraction indicates a model response that contains no usable SQL.
	Extraction Kind = "extraction_error"
	// SQLExecution indicates the database rejected the generated statement.
	SQLExecution Kind = "sql_execution_error"
	// Permission indicates catalog or data access was denied.
	Permission Kind = "permission_error"
	// NotFound indicates an unknown session or resource.
	NotFound Kind = "not_found"
	// Busy indicates the session cannot accept the operation right now.
	Busy Kind = "session_busy"
	// Internal is reported for errors that carry no Kind.
	Internal Kind = "internal_error"
)

// E wraps an error with kind and human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// KindOf returns the Kind of the outermost *E in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing text for err. For wrapped driver or
// provider errors the underlying message is kept verbatim.
func Message(err error) string {
	var e *E
	if !errors.As(err, &e) {
		return err.Error()
	}
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}
