package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryStateStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore(time.Hour)

	if _, err := store.Load(ctx, "s1"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() error = %v, want ErrStateNotFound", err)
	}

	want := State{ScenarioID: "tour", SceneID: "2", Edit: true}
	if err := store.Save(ctx, "s1", want); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if *got != want {
		t.Errorf("Load() = %+v, want %+v", *got, want)
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := store.Load(ctx, "s1"); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("Load() after Delete error = %v, want ErrStateNotFound", err)
	}
}

// TestMemoryStateStore_Expiry tests that entries older than the TTL are not
// returned.
func TestMemoryStateStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore(time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if err := store.Save(ctx, "s1", State{ScenarioID: "tour"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	now = now.Add(30 * time.Second)
	if _, err := store.Load(ctx, "s1"); err != nil {
		t.Errorf("Load() before expiry error: %v", err)
	}

	now = now.Add(time.Minute)
	if _, err := store.Load(ctx, "s1"); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("Load() after expiry error = %v, want ErrStateNotFound", err)
	}
}

func TestMemoryStateStore_ZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore(0)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if err := store.Save(ctx, "s1", State{ScenarioID: "tour"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	now = now.Add(365 * 24 * time.Hour)
	if _, err := store.Load(ctx, "s1"); err != nil {
		t.Errorf("Load() error: %v", err)
	}
}

// TestRedisStateStore tests the Redis-backed store against a local Redis.
// Skipped when Redis is not reachable.
func TestRedisStateStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}

	store := NewRedisStateStore(client, time.Minute)
	id := "test-" + time.Now().Format("150405.000000")
	defer func() { _ = store.Delete(ctx, id) }()

	if _, err := store.Load(ctx, id); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() error = %v, want ErrStateNotFound", err)
	}

	want := State{
		ScenarioID: "tour",
		SceneID:    "3",
		Edit:       true,
		UpdatedAt:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.Save(ctx, id, want); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := store.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.ScenarioID != want.ScenarioID || got.SceneID != want.SceneID || got.Edit != want.Edit {
		t.Errorf("Load() = %+v, want %+v", *got, want)
	}
	if !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, want.UpdatedAt)
	}

	ttl, err := client.TTL(ctx, store.key(id)).Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want within (0, 1m]", ttl)
	}
}
