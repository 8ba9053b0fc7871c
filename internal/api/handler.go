// Package api serves the JSON API and the embedded browser page.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatdb/chatdb/internal/audit"
	"github.com/chatdb/chatdb/internal/auth"
	"github.com/chatdb/chatdb/internal/config"
	"github.com/chatdb/chatdb/internal/database"
	"github.com/chatdb/chatdb/internal/export"
	"github.com/chatdb/chatdb/internal/observability"
	"github.com/chatdb/chatdb/internal/schema"
	"github.com/chatdb/chatdb/internal/session"
	"github.com/chatdb/chatdb/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

type SessionStore interface {
	Create(owner string) (*session.Session, error)
	Get(id, owner string) (*session.Session, error)
	Delete(id, owner string) error
}

type ChatService interface {
	Ask(ctx context.Context, sess *session.Session, question string) (session.Turn, error)
	Connect(ctx context.Context, sess *session.Session, desc database.Descriptor) error
	Reset(ctx context.Context, sess *session.Session) error
	Schema(ctx context.Context, sess *session.Session) (schema.Snapshot, error)
}

type Exporter interface {
	ExportSchema(ctx context.Context, principal, sessionID string, snap schema.Snapshot) (export.Artefact, error)
	ExportResult(ctx context.Context, principal, sessionID string, turn *session.Turn) (export.Artefact, error)
	Open(ctx context.Context, principal, key string) (io.ReadCloser, storage.ObjectInfo, error)
}

// AuditLog reads back what the audit sink recorded.
type AuditLog interface {
	ListBySession(ctx context.Context, sessionID string, limit int) ([]audit.Event, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Sessions          SessionStore
	Chat              ChatService
	Exporter          Exporter
	AuditLog          AuditLog
	UI                http.Handler
}

type server struct {
	cfg  config.Config
	deps Dependencies
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	s := &server{cfg: cfg, deps: deps}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})
	mux.HandleFunc("GET /v1/ready", s.handleReady)
	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := map[string]http.HandlerFunc{
		"POST /v1/sessions":                         s.handleCreateSession,
		"GET /v1/sessions/{id}":                     s.handleGetSession,
		"DELETE /v1/sessions/{id}":                  s.handleDeleteSession,
		"POST /v1/sessions/{id}/connect":            s.handleConnect,
		"POST /v1/sessions/{id}/ask":                s.handleAsk,
		"POST /v1/sessions/{id}/reset":              s.handleReset,
		"GET /v1/sessions/{id}/history":             s.handleHistory,
		"GET /v1/sessions/{id}/audit":               s.handleAudit,
		"GET /v1/sessions/{id}/schema":              s.handleSchema,
		"GET /v1/sessions/{id}/schema/download":     s.handleSchemaDownload,
		"POST /v1/sessions/{id}/exports/{artefact}": s.handleExport,
		"GET /v1/exports/{key...}":                  s.handleExportDownload,
	}
	authenticate := s.authMiddleware()
	for pattern, handler := range protected {
		mux.Handle(pattern, authenticate(handler))
	}
	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func (s *server) authMiddleware() func(http.Handler) http.Handler {
	if !s.cfg.Auth.Required {
		return auth.AnonymousMiddleware
	}
	if s.deps.AuthMiddleware == nil {
		if s.deps.Logger != nil {
			s.deps.Logger.Error("auth required but auth middleware missing")
		}
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		}
	}
	return s.deps.AuthMiddleware
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Readiness == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}
	timeout := s.deps.DependencyTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	if err := s.deps.Readiness(ctx); err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
