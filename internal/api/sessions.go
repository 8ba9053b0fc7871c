package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/chatdb/chatdb/internal/auth"
	"github.com/chatdb/chatdb/internal/database"
	"github.com/chatdb/chatdb/internal/session"
)

type askRequest struct {
	Question string `json:"question"`
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireRole(w, r, auth.RoleAsker)
	if !ok || !s.sessionsConfigured(w, r) {
		return
	}
	sess, err := s.deps.Sessions.Create(identity.Principal)
	if err != nil {
		writeKindError(r.Context(), w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, sess.View())
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireRole(w, r, auth.RoleAsker)
	if !ok || !s.sessionsConfigured(w, r) {
		return
	}
	if err := s.deps.Sessions.Delete(r.PathValue("id"), identity.Principal); err != nil {
		writeKindError(r.Context(), w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleConnect(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok || !s.chatConfigured(w, r) {
		return
	}
	var desc database.Descriptor
	if !decodeJSON(w, r, &desc) {
		return
	}
	desc = s.withConnectionDefaults(desc)
	if err := s.deps.Chat.Connect(r.Context(), sess, desc); err != nil {
		writeKindError(r.Context(), w, err, map[string]any{"target": desc.Normalize().Redacted().Label()})
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *server) handleAsk(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok || !s.chatConfigured(w, r) {
		return
	}
	var request askRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	turn, err := s.deps.Chat.Ask(r.Context(), sess, request.Question)
	if err != nil {
		var extra map[string]any
		if turn.Record.ID != "" {
			extra = map[string]any{"record": turn.Record}
		}
		writeKindError(r.Context(), w, err, extra)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok || !s.chatConfigured(w, r) {
		return
	}
	if err := s.deps.Chat.Reset(r.Context(), sess); err != nil {
		writeKindError(r.Context(), w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"history":    sess.History(),
	})
}

// withConnectionDefaults fills the configured SQLite path and MySQL host,
// port and user into a sparse descriptor.
func (s *server) withConnectionDefaults(desc database.Descriptor) database.Descriptor {
	defaults := s.cfg.Database
	if desc.Port == 0 && defaults.MySQLPort > 0 {
		desc.Port = defaults.MySQLPort
	}
	desc = desc.Normalize()
	switch desc.Driver {
	case database.SQLite:
		desc.Port = 0
		if desc.Path == "" {
			desc.Path = defaults.DefaultSQLitePath
		}
	case database.MySQL:
		if desc.Host == "" {
			desc.Host = defaults.MySQLHost
		}
		if desc.User == "" {
			desc.User = defaults.MySQLUser
		}
	}
	return desc
}

func (s *server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	identity, ok := s.requireRole(w, r, auth.RoleAsker)
	if !ok || !s.sessionsConfigured(w, r) {
		return nil, false
	}
	sess, err := s.deps.Sessions.Get(r.PathValue("id"), identity.Principal)
	if err != nil {
		writeKindError(r.Context(), w, err, map[string]any{"session_id": r.PathValue("id")})
		return nil, false
	}
	return sess, true
}

func (s *server) requireRole(w http.ResponseWriter, r *http.Request, role string) (auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(r.Context(), w, http.StatusUnauthorized, "UNAUTHORIZED", "no identity on request", false, nil)
		return auth.Identity{}, false
	}
	if !identity.HasRole(role) {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", fmt.Sprintf("missing required role %q", role), false, nil)
		return auth.Identity{}, false
	}
	return identity, true
}

func (s *server) sessionsConfigured(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return false
	}
	return true
}

func (s *server) chatConfigured(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat service is not configured", false, nil)
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": strings.TrimSpace(err.Error())})
		return false
	}
	return true
}
