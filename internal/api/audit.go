package api

import (
	"net/http"
	"strconv"

	"github.com/chatdb/chatdb/internal/errs"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// handleAudit lists the durable audit trail of a live session, newest first.
func (s *server) handleAudit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if s.deps.AuditLog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AUDIT_NOT_CONFIGURED", "audit log is not enabled", false, nil)
		return
	}

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxAuditLimit {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 500", false, map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}

	events, err := s.deps.AuditLog.ListBySession(r.Context(), sess.ID, limit)
	if err != nil {
		writeKindError(r.Context(), w, errs.Wrap(errs.Upstream, "audit log is unavailable", err), map[string]any{"session_id": sess.ID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"events":     events,
	})
}
