package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatdb/chatdb/internal/errs"
	"github.com/chatdb/chatdb/internal/observability"
)

type ManagerConfig struct {
	IdleTTL     time.Duration
	MaxSessions int
	Opener      Opener
	Logger      *slog.Logger
	Now         func() time.Time
}

// Manager owns every live session. Sessions share nothing with each other.
type Manager struct {
	idleTTL     time.Duration
	maxSessions int
	opener      Opener
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		idleTTL:     cfg.IdleTTL,
		maxSessions: cfg.MaxSessions,
		opener:      cfg.Opener,
		logger:      logger,
		now:         now,
		sessions:    map[string]*Session{},
	}
}

func (m *Manager) Create(owner string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return nil, errs.New(errs.Busy, fmt.Sprintf("session limit of %d reached", m.maxSessions))
	}
	sess := New(uuid.NewString(), owner, m.opener, m.now())
	m.sessions[sess.ID] = sess
	observability.SetActiveSessions(len(m.sessions))
	m.logger.Debug("session created", observability.SessionAttr(sess.ID), slog.String("owner", owner))
	return sess, nil
}

// Get returns the session if it exists and belongs to owner. A foreign
// session is reported as not found.
func (m *Manager) Get(id, owner string) (*Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok || sess.Owner != owner {
		return nil, errs.New(errs.NotFound, "session not found")
	}
	sess.Touch(m.now())
	return sess, nil
}

func (m *Manager) Delete(id, owner string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok || sess.Owner != owner {
		m.mu.Unlock()
		return errs.New(errs.NotFound, "session not found")
	}
	delete(m.sessions, id)
	observability.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	m.logger.Debug("session closed", observability.SessionAttr(id))
	return sess.Close()
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than the TTL. Sessions with a turn
// in progress are skipped until the next sweep.
func (m *Manager) Sweep(now time.Time) int {
	if m.idleTTL <= 0 {
		return 0
	}
	m.mu.Lock()
	var expired []*Session
	for id, sess := range m.sessions {
		if now.Sub(sess.LastSeen()) <= m.idleTTL {
			continue
		}
		if !sess.tryAcquire() {
			continue
		}
		delete(m.sessions, id)
		expired = append(expired, sess)
	}
	observability.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	for _, sess := range expired {
		if err := sess.Close(); err != nil {
			m.logger.Warn("close idle session", observability.SessionAttr(sess.ID), slog.Any("error", err))
		}
		<-sess.turn
	}
	if len(expired) > 0 {
		observability.AddEvictedSessions(len(expired))
		m.logger.Info("idle sessions evicted", slog.Int("count", len(expired)))
	}
	return len(expired)
}

// Run sweeps on every tick until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(m.now())
		}
	}
}

// CloseAll tears every session down; used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[string]*Session{}
	observability.SetActiveSessions(0)
	m.mu.Unlock()
	for _, sess := range sessions {
		_ = sess.Close()
	}
}
