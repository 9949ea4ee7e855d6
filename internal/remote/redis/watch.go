package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/roach88/gamecat/internal/remote"
)

var errSubscriptionClosed = errors.New("redis subscription closed")

type watcher struct {
	*remote.Feed
	collection string
}

// Watch subscribes to the collection channel and waits for the confirmation
// before loading the initial snapshot, so no write is missed in between.
func (s *Store) Watch(ctx context.Context, collection string) (remote.Watcher, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return nil, err
	}

	sub := s.client.Subscribe(ctx, channel(collection))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("watch %s: subscribe: %w", collection, err)
	}

	snap, err := s.load(ctx, collection, 1)
	if err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("watch %s: %w", collection, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	w := &watcher{collection: collection}
	w.Feed = remote.NewFeed(func() {
		cancel()
		_ = sub.Close()
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
	go s.listen(loopCtx, w, sub.Channel(), snap.Seq)

	return w, nil
}

func (s *Store) listen(ctx context.Context, w *watcher, messages <-chan *goredis.Message, seq int64) {
	defer s.wg.Done()

	for {
		select {
		case <-w.Stopping():
			return
		case _, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				w.Fail(fmt.Errorf("listen %s: %w", w.collection, errSubscriptionClosed))
				return
			}
		}

		seq++
		snap, err := s.load(ctx, w.collection, seq)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("redis reload failed", "collection", w.collection, "error", err)
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
