// Package docstore defines the schema-less document store the tour data lives
// in, plus an in-memory implementation. Documents are JSON objects grouped in
// named collections; the store supports point reads, equality-filtered
// queries with a single ordering field, single-document writes and atomic
// multi-document batches.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection names used by the tour.
const (
	CollectionScenarios = "scenarios"
	CollectionScenes    = "scenes"
	CollectionHotspots  = "hotspots"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidQuery is returned for queries the store cannot execute.
	ErrInvalidQuery = errors.New("invalid query")
)

// Document is a stored JSON object and its store-assigned identifier.
type Document struct {
	ID   string
	Data map[string]any
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", d.ID, err)
	}
	return nil
}

// Filter is an equality condition on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents from one collection.
type Query struct {
	Collection string
	Where      []Filter
	OrderBy    string // optional top-level field
	Descending bool
	Limit      int // 0 means no limit
}

// WriteOp is the kind of a batched write.
type WriteOp int

const (
	// OpSet creates or replaces a document.
	OpSet WriteOp = iota
	// OpUpdate merges fields into an existing document.
	OpUpdate
	// OpDelete removes a document.
	OpDelete
)

func (o WriteOp) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Write is one element of an atomic batch.
type Write struct {
	Op         WriteOp
	Collection string
	ID         string
	Data       map[string]any
}

// Store is the document store collaborator.
type Store interface {
	// Get returns a document by id, or ErrNotFound.
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Find returns the documents matching the query.
	Find(ctx context.Context, q Query) ([]Document, error)

	// Add stores a new document under a store-assigned id and returns it.
	Add(ctx context.Context, collection string, data map[string]any) (string, error)

	// Set creates or replaces the document with the given id.
	Set(ctx context.Context, collection, id string, data map[string]any) error

	// Update merges fields into an existing document, or returns ErrNotFound.
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Commit applies all writes atomically: either every write is applied or none is.
	Commit(ctx context.Context, writes []Write) error

	// Close releases resources held by the store.
	Close() error
}

// Normalize round-trips a field map through JSON so that every backend sees
// the same value types (float64 numbers, map[string]any objects, []any arrays).
func Normalize(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return out, nil
}

// NormalizeValue applies the same JSON normalisation to a single filter value.
func NormalizeValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return out, nil
}

// ValidateQuery checks the parts of a query every backend depends on.
func ValidateQuery(q Query) error {
	if q.Collection == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidQuery)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", ErrInvalidQuery)
	}
	for _, f := range q.Where {
		if f.Field == "" {
			return fmt.Errorf("%w: filter field is required", ErrInvalidQuery)
		}
	}
	return nil
}

// ValidateWrites checks a batch before it is applied.
func ValidateWrites(writes []Write) error {
	for i, w := range writes {
		if w.Collection == "" || w.ID == "" {
			return fmt.Errorf("write %d: collection and id are required", i)
		}
		if w.Op != OpSet && w.Op != OpUpdate && w.Op != OpDelete {
			return fmt.Errorf("write %d: unknown op %s", i, w.Op)
		}
	}
	return nil
}
