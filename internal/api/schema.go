package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/chatdb/chatdb/internal/schema"
)

func (s *server) handleSchema(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok || !s.chatConfigured(w, r) {
		return
	}
	snap, err := s.deps.Chat.Schema(r.Context(), sess)
	if err != nil {
		writeKindError(r.Context(), w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"dialect":    snap.Dialect,
		"tables":     snap.Tables,
		"markdown":   snap.Markdown(),
	})
}

func (s *server) handleSchemaDownload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok || !s.chatConfigured(w, r) {
		return
	}
	snap, err := s.deps.Chat.Schema(r.Context(), sess)
	if err != nil {
		writeKindError(r.Context(), w, err, nil)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", schema.MarkdownFileName))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, snap.Markdown())
}
