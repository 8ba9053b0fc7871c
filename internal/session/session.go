// Package session holds per-user conversational state: the database
// connection, the append-only question history and the last turn.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/chatdb/chatdb/internal/database"
	"github.com/chatdb/chatdb/internal/errs"
)

type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	StateExecuting  State = "executing"
	StateFailed     State = "failed"
)

// Opener opens and pings a database connection.
type Opener func(ctx context.Context, desc database.Descriptor) (*database.Conn, error)

// Session is safe for concurrent use. Turns (questions, connects, resets)
// are serialised through a one-slot semaphore; readers only take the field
// lock and never wait for a running turn.
type Session struct {
	ID        string
	Owner     string
	CreatedAt time.Time

	turn   chan struct{}
	opener Opener

	mu       sync.RWMutex
	conn     *database.Conn
	history  []Record
	last     *Turn
	state    State
	lastSeen time.Time
	closed   bool
}

func New(id, owner string, opener Opener, now time.Time) *Session {
	if opener == nil {
		opener = database.Open
	}
	return &Session{
		ID:        id,
		Owner:     owner,
		CreatedAt: now.UTC(),
		turn:      make(chan struct{}, 1),
		opener:    opener,
		state:     StateIdle,
		lastSeen:  now.UTC(),
	}
}

// Acquire waits for the session's turn slot. The returned function releases
// it. A context that ends first yields a Busy error.
func (s *Session) Acquire(ctx context.Context) (func(), error) {
	select {
	case s.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, errs.Wrap(errs.Busy, "session is busy", ctx.Err())
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		<-s.turn
		return nil, errs.New(errs.NotFound, "session is closed")
	}
	var once sync.Once
	return func() { once.Do(func() { <-s.turn }) }, nil
}

// tryAcquire takes the turn slot only if it is free.
func (s *Session) tryAcquire() bool {
	select {
	case s.turn <- struct{}{}:
		return true
	default:
		return false
	}
}

// Connect opens the new connection before touching the current one. On
// failure the previous connection stays in place.
func (s *Session) Connect(ctx context.Context, desc database.Descriptor) error {
	release, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	conn, err := s.opener(ctx, desc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	previous := s.conn
	s.conn = conn
	s.state = StateIdle
	s.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

// Disconnect closes and forgets the connection; history is kept.
func (s *Session) Disconnect(ctx context.Context) error {
	release, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	return conn.Close()
}

// Reset clears history and the last turn. The connection is untouched.
func (s *Session) Reset(ctx context.Context) error {
	release, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	s.history = nil
	s.last = nil
	s.state = StateIdle
	s.mu.Unlock()
	return nil
}

// Conn returns the current connection or nil.
func (s *Session) Conn() *database.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) SetState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Append adds a record to the history and returns it with id and
// timestamp filled in.
func (s *Session) Append(record Record, now time.Time) Record {
	record.Prepare(now)
	s.mu.Lock()
	s.history = append(s.history, record)
	s.mu.Unlock()
	return record
}

func (s *Session) SetLastTurn(turn Turn) {
	s.mu.Lock()
	s.last = &turn
	s.mu.Unlock()
}

// History returns a copy in insertion order, oldest first.
func (s *Session) History() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) LastTurn() *Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	turn := *s.last
	return &turn
}

func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastSeen) {
		s.lastSeen = now.UTC()
	}
	s.mu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// View is a point-in-time copy of the session for presentation.
type View struct {
	ID         string               `json:"session_id"`
	State      State                `json:"state"`
	Connection *database.Descriptor `json:"connection,omitempty"`
	History    []Record             `json:"history"`
	LastTurn   *Turn                `json:"last_turn,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	LastSeen   time.Time            `json:"last_seen"`
}

func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view := View{
		ID:        s.ID,
		State:     s.state,
		History:   make([]Record, len(s.history)),
		CreatedAt: s.CreatedAt,
		LastSeen:  s.lastSeen,
	}
	copy(view.History, s.history)
	if s.conn != nil {
		desc := s.conn.Descriptor.Redacted()
		view.Connection = &desc
	}
	if s.last != nil {
		turn := *s.last
		view.LastTurn = &turn
	}
	return view
}

// Close tears the session down. It does not wait for a running turn; the
// turn's database calls fail once the pool is closed.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.closed = true
	s.history = nil
	s.last = nil
	s.mu.Unlock()
	return conn.Close()
}
