package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/gamecat/internal/remote"
)

// watcher is one live subscription. Local writes kick it immediately;
// writes from other processes are picked up by the poll ticker.
type watcher struct {
	*remote.Feed
	collection string
	kick       chan struct{} // buffered, size 1
}

// Watch pushes the current contents, then a fresh snapshot whenever the
// collection version moves.
func (s *Store) Watch(ctx context.Context, collection string) (remote.Watcher, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return nil, err
	}

	snap, err := s.load(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", collection, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	w := &watcher{
		collection: collection,
		kick:       make(chan struct{}, 1),
	}
	w.Feed = remote.NewFeed(func() {
		cancel()
		s.unregister(w)
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		w.Stop()
		return nil, remote.ErrClosed
	}
	s.watchers[w] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	w.Push(remote.Event{Snapshot: snap})
	go s.poll(loopCtx, w, snap.Seq)

	return w, nil
}

func (s *Store) poll(ctx context.Context, w *watcher, last int64) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.Stopping():
			return
		case <-w.kick:
		case <-ticker.C:
		}

		version, err := s.version(ctx, w.collection)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transient: report and keep polling
			slog.Debug("sqlite watch poll failed", "collection", w.collection, "error", err)
			w.Push(remote.Event{Err: fmt.Errorf("poll %s: %w", w.collection, err)})
			continue
		}
		if version == last {
			continue
		}

		snap, err := s.load(ctx, w.collection)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Push(remote.Event{Err: fmt.Errorf("load %s: %w", w.collection, err)})
			continue
		}
		last = snap.Seq
		w.Push(remote.Event{Snapshot: snap})
	}
}

// kick wakes local watchers of a collection without blocking.
func (s *Store) kick(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for w := range s.watchers {
		if w.collection != collection {
			continue
		}
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
}

func (s *Store) unregister(w *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers, w)
}

func (s *Store) version(ctx context.Context, collection string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM collection_versions WHERE collection = ?`,
		collection,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

// load reads the version and the documents in one transaction so the
// snapshot Seq matches its contents.
func (s *Store) load(ctx context.Context, collection string) (*remote.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var version int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM collection_versions WHERE collection = ?`,
		collection,
	).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read version: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, fields FROM documents
		WHERE collection = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := make([]remote.Document, 0)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		fields := map[string]any{}
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", id, err)
		}
		docs = append(docs, remote.Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	return &remote.Snapshot{Collection: collection, Seq: version, Documents: docs}, nil
}
