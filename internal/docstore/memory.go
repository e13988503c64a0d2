package docstore

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-memory Store. Values are JSON-normalised on write and
// deep-copied on read so callers never share maps with the store.
// Used for development and tests.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	newID       func() string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]map[string]any),
		newID:       func() string { return uuid.New().String() },
	}
}

// Get returns a copy of the document, or ErrNotFound.
func (m *Memory) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	cp, err := Normalize(data)
	if err != nil {
		return nil, err
	}
	return &Document{ID: id, Data: cp}, nil
}

// Find returns copies of the documents matching every filter.
func (m *Memory) Find(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateQuery(q); err != nil {
		return nil, err
	}

	wants := make([]any, len(q.Where))
	for i, f := range q.Where {
		v, err := NormalizeValue(f.Value)
		if err != nil {
			return nil, err
		}
		wants[i] = v
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Document
	for id, data := range m.collections[q.Collection] {
		matched := true
		for i, f := range q.Where {
			got, ok := data[f.Field]
			if !ok || !reflect.DeepEqual(got, wants[i]) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		cp, err := Normalize(data)
		if err != nil {
			return nil, err
		}
		out = append(out, Document{ID: id, Data: cp})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if q.OrderBy != "" {
			c := compareValues(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy])
			if c != 0 {
				if q.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return out[i].ID < out[j].ID
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Add stores a new document under a generated id.
func (m *Memory) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := m.newID()
	if err := m.Set(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

// Set creates or replaces a document.
func (m *Memory) Set(ctx context.Context, collection, id string, data map[string]any) error {
	return m.Commit(ctx, []Write{{Op: OpSet, Collection: collection, ID: id, Data: data}})
}

// Update merges fields into an existing document.
func (m *Memory) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return m.Commit(ctx, []Write{{Op: OpUpdate, Collection: collection, ID: id, Data: fields}})
}

// Delete removes a document if present.
func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	return m.Commit(ctx, []Write{{Op: OpDelete, Collection: collection, ID: id}})
}

type docKey struct {
	collection string
	id         string
}

// Commit stages every write against an overlay and applies the overlay only
// when all writes succeed.
func (m *Memory) Commit(ctx context.Context, writes []Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateWrites(writes); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// nil value marks a deletion
	staged := make(map[docKey]map[string]any, len(writes))
	lookup := func(k docKey) (map[string]any, bool) {
		if v, ok := staged[k]; ok {
			return v, v != nil
		}
		v, ok := m.collections[k.collection][k.id]
		return v, ok
	}

	for i, w := range writes {
		k := docKey{collection: w.Collection, id: w.ID}
		switch w.Op {
		case OpSet:
			data, err := Normalize(w.Data)
			if err != nil {
				return fmt.Errorf("write %d: %w", i, err)
			}
			staged[k] = data
		case OpUpdate:
			current, ok := lookup(k)
			if !ok {
				return fmt.Errorf("write %d (%s/%s): %w", i, w.Collection, w.ID, ErrNotFound)
			}
			fields, err := Normalize(w.Data)
			if err != nil {
				return fmt.Errorf("write %d: %w", i, err)
			}
			merged := maps.Clone(current)
			maps.Copy(merged, fields)
			staged[k] = merged
		case OpDelete:
			staged[k] = nil
		}
	}

	for k, data := range staged {
		if data == nil {
			delete(m.collections[k.collection], k.id)
			continue
		}
		if m.collections[k.collection] == nil {
			m.collections[k.collection] = make(map[string]map[string]any)
		}
		m.collections[k.collection][k.id] = data
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}

// Len returns the number of documents in a collection.
func (m *Memory) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

// compareValues orders JSON-normalised values: null < bool < number < string,
// anything else compares equal.
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	}
	return 0
}

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}
