// Package postgres implements docstore.Store on a single PostgreSQL JSONB table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/onnwee/panotour/internal/docstore"
)

// Schema creates the documents table. It mirrors migrations/000001.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	data       JSONB       NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_data_gin ON documents USING GIN (data jsonb_path_ops);
`

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store is a PostgreSQL-backed docstore.Store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("database url is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an existing database handle.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EnsureSchema creates the documents table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Get returns a document by id.
func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}

	data := map[string]any{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", collection, id, err)
	}
	return &docstore.Document{ID: id, Data: data}, nil
}

// Find runs an equality-filtered query. Filter values are compared as JSONB so
// numbers and strings keep their types.
func (s *Store) Find(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	query, args, err := buildFind(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var out []docstore.Document
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", q.Collection, err)
		}
		data := map[string]any{}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("failed to decode %s/%s: %w", q.Collection, id, err)
		}
		out = append(out, docstore.Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", q.Collection, err)
	}
	return out, nil
}

// buildFind renders a docstore.Query as SQL with positional parameters.
func buildFind(q docstore.Query) (string, []any, error) {
	if err := docstore.ValidateQuery(q); err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	args := []any{q.Collection}
	sb.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)

	for _, f := range q.Where {
		value, err := json.Marshal(f.Value)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode filter %s: %w", f.Field, err)
		}
		args = append(args, f.Field, string(value))
		fieldArg := len(args) - 1
		sb.WriteString(` AND data -> $` + strconv.Itoa(fieldArg) + ` = $` + strconv.Itoa(fieldArg+1) + `::jsonb`)
	}

	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		sb.WriteString(` ORDER BY data -> $` + strconv.Itoa(len(args)))
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
	return applyWrite(ctx, s.db, docstore.Write{Op: docstore.OpSet, Collection: collection, ID: id, Data: data})
}

// Update merges fields into an existing document.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return applyWrite(ctx, s.db, docstore.Write{Op: docstore.OpUpdate, Collection: collection, ID: id, Data: fields})
}

// Delete removes a document if present.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return applyWrite(ctx, s.db, docstore.Write{Op: docstore.OpDelete, Collection: collection, ID: id})
}

// Commit applies all writes in one transaction.
func (s *Store) Commit(ctx context.Context, writes []docstore.Write) error {
	if err := docstore.ValidateWrites(writes); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		s.logger.Error("failed to begin transaction", slog.String("error", err.Error()))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// no-op after a successful commit
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.logger.Warn("failed to rollback transaction", slog.String("error", err.Error()))
		}
	}()

	for i, w := range writes {
		if err := applyWrite(ctx, tx, w); err != nil {
			return fmt.Errorf("write %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("failed to commit transaction", slog.String("error", err.Error()))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("batch committed", slog.Int("writes", len(writes)))
	return nil
}

func applyWrite(ctx context.Context, ex execer, w docstore.Write) error {
	switch w.Op {
	case docstore.OpSet:
		raw, err := encode(w.Data)
		if err != nil {
			return err
		}
		_, err = ex.ExecContext(ctx, `
			INSERT INTO documents (collection, id, data, created_at, updated_at)
			VALUES ($1, $2, $3::jsonb, NOW(), NOW())
			ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
		`, w.Collection, w.ID, raw)
		if err != nil {
			return fmt.Errorf("failed to set %s/%s: %w", w.Collection, w.ID, err)
		}
	case docstore.OpUpdate:
		raw, err := encode(w.Data)
		if err != nil {
			return err
		}
		res, err := ex.ExecContext(ctx, `
			UPDATE documents SET data = data || $3::jsonb, updated_at = NOW()
			WHERE collection = $1 AND id = $2
		`, w.Collection, w.ID, raw)
		if err != nil {
			return fmt.Errorf("failed to update %s/%s: %w", w.Collection, w.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%s/%s: %w", w.Collection, w.ID, docstore.ErrNotFound)
		}
	case docstore.OpDelete:
		if _, err := ex.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = $1 AND id = $2`,
			w.Collection, w.ID,
		); err != nil {
			return fmt.Errorf("failed to delete %s/%s: %w", w.Collection, w.ID, err)
		}
	default:
		return fmt.Errorf("unknown write op %s", w.Op)
	}
	return nil
}

func encode(data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	return string(raw), nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
