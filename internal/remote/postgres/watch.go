package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/gamecat/internal/remote"
)

type watcher struct {
	*remote.Feed
	collection string
}

// Watch takes a connection out of the pool, LISTENs on NotifyChannel and
// only then loads the initial snapshot, so no committed write is missed
// between the two.
func (s *Store) Watch(ctx context.Context, collection string) (remote.Watcher, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return nil, err
	}

	pooled, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch %s: acquire: %w", collection, err)
	}
	// The connection stays in LISTEN state; it never goes back to the pool.
	conn := pooled.Hijack()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("watch %s: listen: %w", collection, err)
	}

	snap, err := s.load(ctx, collection, 1)
	if err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("watch %s: %w", collection, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	w := &watcher{collection: collection}
	w.Feed = remote.NewFeed(func() {
		cancel()
		s.unregister(w)
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		w.Stop()
		_ = conn.Close(context.Background())
		return nil, remote.ErrClosed
	}
	s.watchers[w] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	w.Push(remote.Event{Snapshot: snap})
	go s.listen(loopCtx, w, conn, snap.Seq)

	return w, nil
}

func (s *Store) listen(ctx context.Context, w *watcher, conn *pgx.Conn, seq int64) {
	defer s.wg.Done()
	defer func() { _ = conn.Close(context.Background()) }()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if isCanceled(ctx, err) {
				return
			}
			// Connection lost: end the stream, the consumer keeps stale data
			w.Fail(fmt.Errorf("listen %s: %w", w.collection, err))
			return
		}
		if n.Payload != w.collection {
			continue
		}

		seq++
		snap, err := s.load(ctx, w.collection, seq)
		if err != nil {
			if isCanceled(ctx, err) {
				return
			}
			slog.Debug("postgres reload failed", "collection", w.collection, "error", err)
			w.Push(remote.Event{Err: fmt.Errorf("load %s: %w", w.collection, err)})
			continue
		}
		w.Push(remote.Event{Snapshot: snap})
	}
}

func (s *Store) unregister(w *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers, w)
}
