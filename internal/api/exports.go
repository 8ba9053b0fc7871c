package api

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/chatdb/chatdb/internal/auth"
	"github.com/chatdb/chatdb/internal/export"
)

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireRole(w, r, auth.RoleExporter)
	if !ok || !s.exportsConfigured(w, r) {
		return
	}
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var (
		artefact export.Artefact
		err      error
	)
	switch kind := r.PathValue("artefact"); kind {
	case export.KindSchema:
		if !s.chatConfigured(w, r) {
			return
		}
		snap, schemaErr := s.deps.Chat.Schema(r.Context(), sess)
		if schemaErr != nil {
			writeKindError(r.Context(), w, schemaErr, nil)
			return
		}
		artefact, err = s.deps.Exporter.ExportSchema(r.Context(), identity.Principal, sess.ID, snap)
	case export.KindResult:
		artefact, err = s.deps.Exporter.ExportResult(r.Context(), identity.Principal, sess.ID, sess.LastTurn())
	default:
		writeError(r.Context(), w, http.StatusNotFound, "UNKNOWN_ARTEFACT", fmt.Sprintf("unknown export %q; use schema or result", kind), false, nil)
		return
	}
	if err != nil {
		writeKindError(r.Context(), w, err, map[string]any{"artefact": r.PathValue("artefact")})
		return
	}
	writeJSON(w, http.StatusCreated, artefact)
}

func (s *server) handleExportDownload(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireRole(w, r, auth.RoleExporter)
	if !ok || !s.exportsConfigured(w, r) {
		return
	}
	body, info, err := s.deps.Exporter.Open(r.Context(), identity.Principal, r.PathValue("key"))
	if err != nil {
		writeKindError(r.Context(), w, err, nil)
		return
	}
	defer func() { _ = body.Close() }()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(info.Key)))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func (s *server) exportsConfigured(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "exports are not enabled", false, nil)
		return false
	}
	return true
}
