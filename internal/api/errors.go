package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/chatdb/chatdb/internal/errs"
)

var kindStatus = map[errs.Kind]int{
	errs.Validation:   http.StatusBadRequest,
	errs.Permission:   http.StatusForbidden,
	errs.NotFound:     http.StatusNotFound,
	errs.Busy:         http.StatusConflict,
	errs.Extraction:   http.StatusUnprocessableEntity,
	errs.SQLExecution: http.StatusUnprocessableEntity,
	errs.Upstream:     http.StatusBadGateway,
	errs.Connection:   http.StatusServiceUnavailable,
}

func statusForKind(kind errs.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// retryable kinds may succeed if the same request is sent again later.
func retryable(kind errs.Kind) bool {
	switch kind {
	case errs.Upstream, errs.Connection, errs.Busy:
		return true
	default:
		return false
	}
}

// writeKindError renders a pipeline error in the standard envelope. Errors
// without a Kind are not described to the client.
func writeKindError(ctx context.Context, w http.ResponseWriter, err error, extra map[string]any) {
	kind := errs.KindOf(err)
	message := errs.Message(err)
	if kind == errs.Internal {
		message = "internal error"
	}
	writeError(ctx, w, statusForKind(kind), strings.ToUpper(string(kind)), message, retryable(kind), extra)
}
