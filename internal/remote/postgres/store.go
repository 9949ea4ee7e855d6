// Package postgres provides a remote.Collection backed by PostgreSQL.
//
// Documents are JSONB rows. Every write issues pg_notify on a shared channel
// with the collection name as payload, inside the write transaction, so a
// notification is only delivered for committed changes. Each watcher holds a
// dedicated connection in LISTEN state and reloads its collection when a
// matching notification arrives.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/gamecat/internal/remote"
)

// Compile-time contract assertion.
var _ remote.Collection = (*Store)(nil)

const (
	// DefaultDSN is used when Open receives an empty DSN.
	DefaultDSN = "postgres://localhost/gamecat?sslmode=disable"

	// NotifyChannel carries one notification per committed write.
	NotifyChannel = "gamecat_changes"
)

const schemaDDL = `CREATE TABLE IF NOT EXISTS gamecat_documents (
	collection TEXT   NOT NULL,
	id         TEXT   NOT NULL,
	fields     JSONB  NOT NULL DEFAULT '{}'::jsonb,
	seq        BIGSERIAL,
	PRIMARY KEY (collection, id)
)`

// Store is a PostgreSQL remote.Collection.
type Store struct {
	pool *pgxpool.Pool
	ids  remote.IDGenerator

	mu       sync.Mutex
	watchers map[*watcher]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the generator used by Create. Default: UUIDv7Generator.
func WithIDGenerator(g remote.IDGenerator) Option {
	return func(s *Store) {
		s.ids = g
	}
}

// Open connects to PostgreSQL (falls back to DefaultDSN) and ensures the
// documents table exists.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure documents table: %w", err)
	}

	s := &Store{
		pool:     pool,
		ids:      remote.UUIDv7Generator{},
		watchers: make(map[*watcher]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Pool exposes the connection pool for integration testing hooks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Create inserts a document at the end of the collection order.
func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("create: encode fields: %w", err)
	}

	id := s.ids.Generate()
	err = s.write(ctx, collection, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO gamecat_documents (collection, id, fields) VALUES ($1, $2, $3::jsonb)`,
			collection, id, string(body),
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	return id, nil
}

// UpdateField sets one top-level key with jsonb_set, leaving the rest of
// the body untouched.
func (s *Store) UpdateField(ctx context.Context, collection, id, field string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("update %s/%s: encode value: %w", collection, id, err)
	}

	err = s.write(ctx, collection, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE gamecat_documents
			SET fields = jsonb_set(fields, ARRAY[$3::text], $4::jsonb, true)
			WHERE collection = $1 AND id = $2
		`, collection, id, field, string(body))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return remote.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	err := s.write(ctx, collection, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM gamecat_documents WHERE collection = $1 AND id = $2`,
			collection, id,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return remote.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Close stops all watchers and closes the pool. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	watchers := make([]*watcher, 0, len(s.watchers))
	for w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()

	for _, w := range watchers {
		w.Stop()
	}
	s.wg.Wait()
	s.pool.Close()
	return nil
}

// write runs fn and the change notification in one transaction.
func (s *Store) write(ctx context.Context, collection string, fn func(tx pgx.Tx) error) error {
	if err := s.ensureOpen(ctx); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, collection); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
		return nil
	})
}

func (s *Store) ensureOpen(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return remote.ErrClosed
	}
	return ctx.Err()
}

// load reads the whole collection in creation order.
func (s *Store) load(ctx context.Context, collection string, seq int64) (*remote.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, fields FROM gamecat_documents WHERE collection = $1 ORDER BY seq ASC, id ASC`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := make([]remote.Document, 0)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		fields := map[string]any{}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", id, err)
		}
		docs = append(docs, remote.Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return &remote.Snapshot{Collection: collection, Seq: seq, Documents: docs}, nil
}

// isCanceled reports whether err is the watcher's own shutdown.
func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
