package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatdb/chatdb/internal/api"
	"github.com/chatdb/chatdb/internal/api/uistatic"
	"github.com/chatdb/chatdb/internal/audit"
	auditpostgres "github.com/chatdb/chatdb/internal/audit/postgres"
	"github.com/chatdb/chatdb/internal/auth"
	"github.com/chatdb/chatdb/internal/chat"
	"github.com/chatdb/chatdb/internal/config"
	"github.com/chatdb/chatdb/internal/export"
	"github.com/chatdb/chatdb/internal/nl2sql"
	"github.com/chatdb/chatdb/internal/observability"
	"github.com/chatdb/chatdb/internal/prompt"
	"github.com/chatdb/chatdb/internal/query"
	"github.com/chatdb/chatdb/internal/schema"
	"github.com/chatdb/chatdb/internal/session"
	s3store "github.com/chatdb/chatdb/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("chatdb-api", ".env")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	generator, err := nl2sql.New(cfg.AI)
	if err != nil {
		logger.Error("failed to initialize sql generator", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.AI.APIKey == "" {
		logger.Warn("no model API key configured; questions will fail until one is set",
			slog.String("provider", cfg.AI.Provider))
	}
	guard, err := query.NewGuard(cfg.Database.StatementPolicy)
	if err != nil {
		logger.Error("invalid statement policy", slog.Any("error", err))
		os.Exit(1)
	}

	executor := query.NewExecutor(cfg.Database.MaxRows, cfg.Database.QueryTimeout)
	executor.ReadOnly = guard.Policy == query.PolicyReadOnly

	var readiness []api.ReadinessCheck
	var sink audit.Sink = audit.Nop{}
	var auditLog api.AuditLog
	if cfg.Audit.Enabled {
		auditDB, err := auditpostgres.Open(ctx, auditpostgres.DBConfig{
			DSN:             cfg.Audit.DSN,
			MaxOpenConns:    cfg.Audit.MaxOpenConns,
			MaxIdleConns:    cfg.Audit.MaxIdleConns,
			ConnMaxIdleTime: cfg.Audit.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open audit db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = auditDB.Close() }()
		repo := auditpostgres.NewRepository(auditDB)
		sink = audit.NewBestEffort(repo, 2*time.Second, logger)
		auditLog = repo
		readiness = append(readiness, repo.HealthCheck)
	}

	var exporter api.Exporter
	if cfg.Export.Enabled {
		store, err := s3store.New(ctx, cfg.Export)
		if err != nil {
			logger.Error("failed to initialize export store", slog.Any("error", err))
			os.Exit(1)
		}
		exporter = export.NewExporter(store, nil)
		readiness = append(readiness, store.HealthCheck)
	}

	sessions := session.NewManager(session.ManagerConfig{
		IdleTTL:     cfg.Session.IdleTTL,
		MaxSessions: cfg.Session.MaxSessions,
		Logger:      logger,
	})
	defer sessions.CloseAll()
	go sessions.Run(ctx, cfg.Session.SweepInterval)

	service := chat.NewService(chat.Dependencies{
		Inspector: schema.NewInspector(),
		Prompts:   prompt.NewBuilder(prompt.DefaultMinQuestionLength),
		Generator: generator,
		Guard:     guard,
		Executor:  executor,
		Audit:     sink,
		Logger:    logger,
	})

	deps := api.Dependencies{
		Logger:            logger,
		Sessions:          sessions,
		Chat:              service,
		Exporter:          exporter,
		AuditLog:          auditLog,
		UI:                uistatic.Handler(),
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("provider", cfg.AI.Provider),
			slog.String("model", cfg.AI.Model),
			slog.String("statement_policy", string(guard.Policy)),
			slog.Bool("audit", cfg.Audit.Enabled),
			slog.Bool("export", cfg.Export.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
	}
}
