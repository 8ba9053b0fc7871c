// Package chat runs the question pipeline for a session: inspect the
// schema, build the prompt, generate SQL, check it against the statement
// policy, execute it and record the turn.
package chat

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/chatdb/chatdb/internal/audit"
	"github.com/chatdb/chatdb/internal/database"
	"github.com/chatdb/chatdb/internal/errs"
	"github.com/chatdb/chatdb/internal/nl2sql"
	"github.com/chatdb/chatdb/internal/observability"
	"github.com/chatdb/chatdb/internal/prompt"
	"github.com/chatdb/chatdb/internal/query"
	"github.com/chatdb/chatdb/internal/schema"
	"github.com/chatdb/chatdb/internal/session"
)

type SchemaInspector interface {
	Inspect(ctx context.Context, db *sql.DB, dialect database.Dialect) (schema.Snapshot, error)
}

type Executor interface {
	Execute(ctx context.Context, db *sql.DB, sqlText string) (query.Result, error)
}

type Dependencies struct {
	Inspector SchemaInspector
	Prompts   *prompt.Builder
	Generator nl2sql.Generator
	Guard     *query.Guard
	Executor  Executor
	Audit     audit.Sink
	Logger    *slog.Logger
	Now       func() time.Time
}

type Service struct {
	inspector SchemaInspector
	prompts   *prompt.Builder
	generator nl2sql.Generator
	guard     *query.Guard
	executor  Executor
	audit     audit.Sink
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(deps Dependencies) *Service {
	svc := &Service{
		inspector: deps.Inspector,
		prompts:   deps.Prompts,
		generator: deps.Generator,
		guard:     deps.Guard,
		executor:  deps.Executor,
		audit:     deps.Audit,
		logger:    deps.Logger,
		now:       deps.Now,
	}
	if svc.inspector == nil {
		svc.inspector = schema.NewInspector()
	}
	if svc.prompts == nil {
		svc.prompts = prompt.NewBuilder(prompt.DefaultMinQuestionLength)
	}
	if svc.guard == nil {
		svc.guard = &query.Guard{Policy: query.PolicyReadOnly}
	}
	if svc.executor == nil {
		executor := query.NewExecutor(query.DefaultMaxRows, 0)
		executor.ReadOnly = svc.guard.Policy == query.PolicyReadOnly
		svc.executor = executor
	}
	if svc.audit == nil {
		svc.audit = audit.Nop{}
	}
	if svc.logger == nil {
		svc.logger = slog.New(slog.DiscardHandler)
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

// Ask answers one question. A blank question and a missing connection
// leave the history untouched; every other outcome, including a question
// too short to be meaningful, appends exactly one record. On failure the
// returned turn carries the failed record.
func (s *Service) Ask(ctx context.Context, sess *session.Session, question string) (session.Turn, error) {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		observability.ObserveQuestion(string(session.StatusFailed), string(errs.Validation))
		return session.Turn{}, errs.New(errs.Validation, "question is empty")
	}

	release, err := sess.Acquire(ctx)
	if err != nil {
		return session.Turn{}, err
	}
	defer release()

	conn := sess.Conn()
	if conn == nil {
		observability.ObserveQuestion(string(session.StatusFailed), string(errs.Connection))
		return session.Turn{}, errs.New(errs.Connection, "no database connection; connect first")
	}

	start := s.now()
	record := session.Record{Question: trimmed}
	if _, err := s.prompts.ValidateQuestion(trimmed); err != nil {
		return s.fail(ctx, sess, conn, record, start, err)
	}
	sess.SetState(session.StateGenerating)

	snap, err := s.inspector.Inspect(ctx, conn.DB, conn.Dialect)
	if err != nil {
		return s.fail(ctx, sess, conn, record, start, err)
	}
	text, err := s.prompts.Build(trimmed, snap)
	if err != nil {
		return s.fail(ctx, sess, conn, record, start, err)
	}

	if s.generator == nil {
		return s.fail(ctx, sess, conn, record, start, errs.New(errs.Upstream, "no SQL generator is configured"))
	}
	genStart := time.Now()
	generated, err := s.generator.Generate(ctx, text)
	observability.ObserveGeneration(time.Since(genStart))
	if err != nil {
		return s.fail(ctx, sess, conn, record, start, err)
	}
	record.SQL = generated.SQL
	record.Provider = generated.Provider
	record.Model = generated.Model

	sess.SetState(session.StateExecuting)
	if err := s.guard.Check(generated.SQL); err != nil {
		return s.fail(ctx, sess, conn, record, start, err)
	}
	execStart := time.Now()
	result, err := s.executor.Execute(ctx, conn.DB, generated.SQL)
	observability.ObserveExecution(time.Since(execStart))
	if err != nil {
		return s.fail(ctx, sess, conn, record, start, err)
	}

	record.Status = session.StatusSuccess
	record.Summary = result.Summary()
	record.RowCount = result.RowCount()
	record.RowsAffected = result.RowsAffected
	record.Duration = s.now().Sub(start)
	record = sess.Append(record, s.now())
	turn := session.Turn{Record: record, Result: &result}
	sess.SetLastTurn(turn)
	sess.SetState(session.StateIdle)

	s.finish(ctx, sess, conn, record)
	return turn, nil
}

func (s *Service) fail(ctx context.Context, sess *session.Session, conn *database.Conn, record session.Record, start time.Time, cause error) (session.Turn, error) {
	sess.SetState(session.StateFailed)
	record.Status = session.StatusFailed
	record.ErrorKind = string(errs.KindOf(cause))
	record.Error = errs.Message(cause)
	record.Duration = s.now().Sub(start)
	record = sess.Append(record, s.now())
	turn := session.Turn{Record: record}
	sess.SetLastTurn(turn)

	s.finish(ctx, sess, conn, record)
	// Failed is only held until the failure is reported.
	sess.SetState(session.StateIdle)
	return turn, cause
}

func (s *Service) finish(ctx context.Context, sess *session.Session, conn *database.Conn, record session.Record) {
	observability.ObserveQuestion(string(record.Status), record.ErrorKind)

	attrs := []slog.Attr{
		observability.SessionAttr(sess.ID),
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("record_id", record.ID),
		slog.String("status", string(record.Status)),
		slog.String("dialect", string(conn.Dialect)),
		slog.String("duration", record.Duration.String()),
	}
	level := slog.LevelInfo
	if record.Status == session.StatusFailed {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error_kind", record.ErrorKind), slog.String("error", record.Error))
	} else {
		attrs = append(attrs, slog.Int("row_count", record.RowCount), slog.Int64("rows_affected", record.RowsAffected))
	}
	s.logger.LogAttrs(ctx, level, "question_turn", attrs...)

	_ = s.audit.Record(ctx, audit.Event{
		RecordID:     record.ID,
		SessionID:    sess.ID,
		Principal:    sess.Owner,
		Dialect:      string(conn.Dialect),
		Question:     record.Question,
		SQL:          record.SQL,
		Status:       string(record.Status),
		ErrorKind:    record.ErrorKind,
		Error:        record.Error,
		Provider:     record.Provider,
		Model:        record.Model,
		RowCount:     record.RowCount,
		RowsAffected: record.RowsAffected,
		Duration:     record.Duration,
		OccurredAt:   record.Timestamp,
	})
}

// Connect replaces the session's connection; see session.Session.Connect.
func (s *Service) Connect(ctx context.Context, sess *session.Session, desc database.Descriptor) error {
	if err := sess.Connect(ctx, desc); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "session_connect_failed",
			observability.SessionAttr(sess.ID),
			slog.String("target", desc.Normalize().Redacted().Label()),
			slog.String("error", errs.Message(err)),
		)
		return err
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "session_connected",
		observability.SessionAttr(sess.ID),
		slog.String("target", sess.Conn().Descriptor.Redacted().Label()),
	)
	return nil
}

func (s *Service) Reset(ctx context.Context, sess *session.Session) error {
	if err := sess.Reset(ctx); err != nil {
		return err
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "session_reset", observability.SessionAttr(sess.ID))
	return nil
}

// Schema inspects the session's database without taking the turn slot.
func (s *Service) Schema(ctx context.Context, sess *session.Session) (schema.Snapshot, error) {
	conn := sess.Conn()
	if conn == nil {
		return schema.Snapshot{}, errs.New(errs.Connection, "no database connection; connect first")
	}
	return s.inspector.Inspect(ctx, conn.DB, conn.Dialect)
}
