package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/panotour/internal/render"
)

// Manager issues session tokens and keeps live sessions.
type Manager struct {
	tokens *TokenService
	states StateStore
	deps   Deps
	hub    *render.Hub
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager. hub may be nil when no client streams render
// commands.
func NewManager(tokens *TokenService, states StateStore, deps Deps, hub *render.Hub) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		tokens:   tokens,
		states:   states,
		deps:     deps,
		hub:      hub,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) newSession(id string) *Session {
	var sink render.Sink
	if m.hub != nil {
		sink = m.hub.Sink(id)
	}
	return New(id, m.deps, sink)
}

// Create starts a new session and returns it with its token.
func (m *Manager) Create(ctx context.Context) (*Session, string, error) {
	id := uuid.New().String()
	token, err := m.tokens.Issue(id)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue session token: %w", err)
	}

	s := m.newSession(id)
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "session created", "session_id", id)
	return s, token, nil
}

// Resolve returns the session for a token. A session that is not live is
// rebuilt from its stored state; missing state gives a fresh session with
// the same id.
func (m *Manager) Resolve(ctx context.Context, token string) (*Session, error) {
	claims, err := m.tokens.Validate(token)
	if err != nil {
		return nil, err
	}
	id := claims.Subject

	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return s, nil
	}

	st, err := m.states.Load(ctx, id)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		m.logger.WarnContext(ctx, "failed to load session state", "session_id", id, "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	s = m.newSession(id)
	if st != nil {
		s.Restore(*st)
	}
	m.sessions[id] = s
	return s, nil
}

// Persist stores the session's state.
func (m *Manager) Persist(ctx context.Context, s *Session) error {
	if err := m.states.Save(ctx, s.ID(), s.State()); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", s.ID(), err)
	}
	return nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops live sessions idle for longer than maxIdle. Their stored state
// is kept so they can be resolved again.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}
