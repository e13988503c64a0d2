package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu   sync.RWMutex
	keys map[string]*Record
	now  func() time.Time
}

// NewInMemoryRepository creates a new in-memory idempotency repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		keys: make(map[string]*Record),
		now:  time.Now,
	}
}

// Get implements Repository.
func (r *InMemoryRepository) Get(_ context.Context, key string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.keys[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	copied := *record
	return &copied, nil
}

// Reserve implements Repository.
func (r *InMemoryRepository) Reserve(_ context.Context, record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.keys[record.Key]; exists {
		return ErrKeyExists
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now()
	}
	record.Status = StatusProcessing
	copied := *record
	r.keys[record.Key] = &copied
	return nil
}

// Complete implements Repository.
func (r *InMemoryRepository) Complete(_ context.Context, record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.keys[record.Key]
	if !ok {
		return ErrKeyNotFound
	}
	copied := *record
	copied.CreatedAt = existing.CreatedAt
	copied.Status = StatusCompleted
	r.keys[record.Key] = &copied
	return nil
}

// Release implements Repository.
func (r *InMemoryRepository) Release(_ context.Context, key string) error {
	r.mu.Lock()
	delete(r.keys, key)
	r.mu.Unlock()
	return nil
}

// DeleteOlderThan implements Repository.
func (r *InMemoryRepository) DeleteOlderThan(_ context.Context, age time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-age)
	var deleted int64
	for key, record := range r.keys {
		if record.CreatedAt.Before(cutoff) {
			delete(r.keys, key)
			deleted++
		}
	}
	return deleted, nil
}

// RedisRepository implements Repository on Redis so replays work across API
// replicas. Records expire on their own after the configured TTL.
type RedisRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRepository creates a Redis-backed repository. ttl <= 0 uses DefaultExpiry.
func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	if ttl <= 0 {
		ttl = DefaultExpiry
	}
	return &RedisRepository{
		client: client,
		prefix: "panotour:idempotency:",
		ttl:    ttl,
	}
}

// Get implements Repository.
func (r *RedisRepository) Get(ctx context.Context, key string) (*Record, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency key: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency record: %w", err)
	}
	return &record, nil
}

// Reserve implements Repository with SET NX.
func (r *RedisRepository) Reserve(ctx context.Context, record *Record) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.Status = StatusProcessing
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency record: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.prefix+record.Key, data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if !ok {
		return ErrKeyExists
	}
	return nil
}

// Complete implements Repository. The reservation's TTL is kept.
func (r *RedisRepository) Complete(ctx context.Context, record *Record) error {
	record.Status = StatusCompleted
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency record: %w", err)
	}
	ok, err := r.client.SetXX(ctx, r.prefix+record.Key, data, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to store idempotency response: %w", err)
	}
	if !ok {
		return ErrKeyNotFound
	}
	return nil
}

// Release implements Repository.
func (r *RedisRepository) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// DeleteOlderThan implements Repository. Redis expires records itself.
func (r *RedisRepository) DeleteOlderThan(context.Context, time.Duration) (int64, error) {
	return 0, nil
}
