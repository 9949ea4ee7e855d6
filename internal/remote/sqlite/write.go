package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/gamecat/internal/remote"
)

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
	err = s.write(ctx, collection, func(tx *sql.Tx) error {
		var seq int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM documents WHERE collection = ?`,
			collection,
		).Scan(&seq); err != nil {
			return fmt.Errorf("next seq: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, fields, seq)
			VALUES (?, ?, ?, ?)
		`, collection, id, string(body), seq)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	return id, nil
}

// UpdateField rewrites one key of an existing document's JSON body.
func (s *Store) UpdateField(ctx context.Context, collection, id, field string, value any) error {
	err := s.write(ctx, collection, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx,
			`SELECT fields FROM documents WHERE collection = ? AND id = ?`,
			collection, id,
		).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return remote.ErrNotFound
		}
		if err != nil {
			return err
		}

		fields := map[string]any{}
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return fmt.Errorf("decode stored fields: %w", err)
		}
		fields[field] = value

		body, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("encode fields: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET fields = ? WHERE collection = ? AND id = ?`,
			string(body), collection, id,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	err := s.write(ctx, collection, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = ? AND id = ?`,
			collection, id,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return remote.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// write runs fn and bumps the collection version in one transaction, then
// wakes local watchers of the collection.
func (s *Store) write(ctx context.Context, collection string, fn func(tx *sql.Tx) error) error {
	if err := s.ensureOpen(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO collection_versions (collection, version)
		VALUES (?, 1)
		ON CONFLICT(collection) DO UPDATE SET version = version + 1
	`, collection); err != nil {
		return fmt.Errorf("bump version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.kick(collection)
	return nil
}
