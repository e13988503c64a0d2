// Package sqlite implements docstore.Store on an embedded SQLite database,
// used for single-node deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/onnwee/panotour/internal/docstore"
)

//go:embed schema.sql
var schema string

// Store is a SQLite-backed docstore.Store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database file and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

func jsonPath(field string) string {
	return `$.` + strconv.Quote(field)
}

// Get returns a document by id.
func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	return getDoc(ctx, s.db, collection, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getDoc(ctx context.Context, q querier, collection, id string) (*docstore.Document, error) {
	var raw string
	err := q.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	data := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return &docstore.Document{ID: id, Data: data}, nil
}

// Find runs an equality-filtered query through the JSON1 functions.
func (s *Store) Find(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	query, args, err := buildFind(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var out []docstore.Document
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", q.Collection, err)
		}
		data := map[string]any{}
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", q.Collection, id, err)
		}
		out = append(out, docstore.Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", q.Collection, err)
	}
	return out, nil
}

func buildFind(q docstore.Query) (string, []any, error) {
	if err := docstore.ValidateQuery(q); err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	args := []any{q.Collection}
	sb.WriteString(`SELECT id, data FROM documents WHERE collection = ?`)

	for _, f := range q.Where {
		value, err := sqlValue(f.Value)
		if err != nil {
			return "", nil, fmt.Errorf("filter %s: %w", f.Field, err)
		}
		sb.WriteString(` AND json_extract(data, ?) = ?`)
		args = append(args, jsonPath(f.Field), value)
	}

	if q.OrderBy != "" {
		sb.WriteString(` ORDER BY json_extract(data, ?)`)
		args = append(args, jsonPath(q.OrderBy))
		if q.Descending {
			sb.WriteString(` DESC`)
		}
		sb.WriteString(`, id`)
	} else {
		sb.WriteString(` ORDER BY id`)
	}

	if q.Limit > 0 {
		sb.WriteString(` LIMIT ` + strconv.Itoa(q.Limit))
	}
	return sb.String(), args, nil
}

// sqlValue maps a filter value to what json_extract returns for it.
func sqlValue(v any) (any, error) {
	normalized, err := docstore.NormalizeValue(v)
	if err != nil {
		return nil, err
	}
	switch val := normalized.(type) {
	case nil:
		return nil, errors.New("null filters are not supported")
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case float64, string:
		return val, nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	}
}

// Add inserts a document under a generated id.
func (s *Store) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.New().String()
	if err := s.Set(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

// Set creates or replaces a document.
func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any) error {
	return s.Commit(ctx, []docstore.Write{{Op: docstore.OpSet, Collection: collection, ID: id, Data: data}})
}

// Update merges fields into an existing document.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.Commit(ctx, []docstore.Write{{Op: docstore.OpUpdate, Collection: collection, ID: id, Data: fields}})
}

// Delete removes a document if present.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.Commit(ctx, []docstore.Write{{Op: docstore.OpDelete, Collection: collection, ID: id}})
}

// Commit applies all writes in one transaction.
func (s *Store) Commit(ctx context.Context, writes []docstore.Write) error {
	if err := docstore.ValidateWrites(writes); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := s.now().UTC().UnixMilli()
	for i, w := range writes {
		if err := s.apply(ctx, tx, w, now); err != nil {
			return fmt.Errorf("write %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) apply(ctx context.Context, tx *sql.Tx, w docstore.Write, now int64) error {
	switch w.Op {
	case docstore.OpSet:
		return upsert(ctx, tx, w.Collection, w.ID, w.Data, now)
	case docstore.OpUpdate:
		current, err := getDoc(ctx, tx, w.Collection, w.ID)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return fmt.Errorf("%s/%s: %w", w.Collection, w.ID, docstore.ErrNotFound)
			}
			return err
		}
		fields, err := docstore.Normalize(w.Data)
		if err != nil {
			return err
		}
		merged := maps.Clone(current.Data)
		maps.Copy(merged, fields)
		return upsert(ctx, tx, w.Collection, w.ID, merged, now)
	case docstore.OpDelete:
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = ? AND id = ?`,
			w.Collection, w.ID,
		); err != nil {
			return fmt.Errorf("delete %s/%s: %w", w.Collection, w.ID, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown write op %s", w.Op)
	}
}

func upsert(ctx context.Context, tx *sql.Tx, collection, id string, data map[string]any, now int64) error {
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, collection, id, string(raw), now, now)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
