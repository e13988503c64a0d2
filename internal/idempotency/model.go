// Package idempotency stores the responses of creation requests so a client
// retrying with the same Idempotency-Key gets the original result instead of
// a duplicate scene, hotspot or scenario.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Record status values. A processing record marks a request that is still
// running; a duplicate arriving meanwhile is rejected rather than replayed.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

var (
	// ErrKeyNotFound is returned when an idempotency key is not found.
	ErrKeyNotFound = errors.New("idempotency key not found")

	// ErrKeyExists is returned when attempting to reserve a key that is taken.
	ErrKeyExists = errors.New("idempotency key already exists")

	// ErrInvalidKey is returned when the key is empty or contains invalid characters.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds maximum length.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// MaxKeyLength is the maximum allowed length for an idempotency key.
const MaxKeyLength = 64

// DefaultExpiry is how long a stored response is replayed.
const DefaultExpiry = 24 * time.Hour

// Record is a stored idempotency key with its cached response. Key is scoped
// by the caller (e.g. prefixed with the session) before it reaches the store.
type Record struct {
	Key                string    `json:"key"`
	Method             string    `json:"method"`
	Route              string    `json:"route"`
	CreatedAt          time.Time `json:"created_at"`
	Status             string    `json:"status"`
	ResponseHash       string    `json:"response_hash,omitempty"`
	ResponseBody       string    `json:"response_body,omitempty"`
	ResponseStatusCode int       `json:"response_status_code,omitempty"`
}

// Matches reports whether the record was made by a request to the same
// method and route.
func (r *Record) Matches(method, route string) bool {
	return r.Method == method && r.Route == route
}

// ValidateKey checks if a client-supplied idempotency key is valid.
// Keys are printable ASCII without spaces, at most MaxKeyLength long.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	for i := 0; i < len(key); i++ {
		if c := key[i]; c <= ' ' || c > '~' {
			return ErrInvalidKey
		}
	}
	return nil
}

// ComputeResponseHash computes a SHA256 hash of the response body.
func ComputeResponseHash(responseBody string) string {
	hash := sha256.Sum256([]byte(responseBody))
	return hex.EncodeToString(hash[:])
}

// Repository defines methods for idempotency record persistence.
type Repository interface {
	// Get retrieves a record by key. Returns ErrKeyNotFound if it doesn't exist.
	Get(ctx context.Context, key string) (*Record, error)

	// Reserve stores a new processing record.
	// Returns ErrKeyExists if the key is already taken.
	Reserve(ctx context.Context, record *Record) error

	// Complete replaces a reserved record with its final response.
	Complete(ctx context.Context, record *Record) error

	// Release removes a reservation so the request can be retried.
	Release(ctx context.Context, key string) error

	// DeleteOlderThan removes records older than the specified duration.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
