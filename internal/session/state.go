package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// ErrStateNotFound is returned when no state is stored for a session.
var ErrStateNotFound = errors.New("session state not found")

// State is the session-scoped data that survives a restart: which scenario
// and scene the user was looking at, and whether edit mode is on.
type State struct {
	ScenarioID string    `cbor:"scenario_id"`
	SceneID    string    `cbor:"scene_id"`
	Edit       bool      `cbor:"edit"`
	UpdatedAt  time.Time `cbor:"updated_at"`
}

// StateStore persists session state.
type StateStore interface {
	Load(ctx context.Context, sessionID string) (*State, error)
	Save(ctx context.Context, sessionID string, st State) error
	Delete(ctx context.Context, sessionID string) error
}

// MemoryStateStore keeps state in process memory with expiry.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	state     State
	expiresAt time.Time
}

// NewMemoryStateStore creates an in-memory store. A zero ttl never expires.
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	return &MemoryStateStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Load returns the stored state.
func (m *MemoryStateStore) Load(_ context.Context, sessionID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[sessionID]
	if !ok {
		return nil, ErrStateNotFound
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.entries, sessionID)
		return nil, ErrStateNotFound
	}
	st := e.state
	return &st, nil
}

// Save stores the state, resetting its expiry.
func (m *MemoryStateStore) Save(_ context.Context, sessionID string, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{state: st}
	if m.ttl > 0 {
		e.expiresAt = m.now().Add(m.ttl)
	}
	m.entries[sessionID] = e
	return nil
}

// Delete removes the state.
func (m *MemoryStateStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}

// RedisStateStore keeps CBOR-encoded state in Redis with a TTL.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStateStore creates a Redis-backed store.
func NewRedisStateStore(client *redis.Client, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{
		client: client,
		ttl:    ttl,
		prefix: "panotour:session:",
	}
}

func (r *RedisStateStore) key(sessionID string) string {
	return r.prefix + sessionID
}

// Load returns the stored state.
func (r *RedisStateStore) Load(ctx context.Context, sessionID string) (*State, error) {
	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session state: %w", err)
	}

	var st State
	if err := cbor.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	return &st, nil
}

// Save stores the state with the configured TTL.
func (r *RedisStateStore) Save(ctx context.Context, sessionID string, st State) error {
	data, err := cbor.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	if err := r.client.Set(ctx, r.key(sessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session state: %w", err)
	}
	return nil
}

// Delete removes the state.
func (r *RedisStateStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session state: %w", err)
	}
	return nil
}
