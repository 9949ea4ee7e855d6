// Package catalogue keeps a local list of game records in sync with a remote
// live collection and issues read status updates against it.
//
// The Store is single-writer, multi-reader: a delivery goroutine per
// Subscription decodes each pushed snapshot and swaps it in atomically under
// applyMu, and List/FindByID read whatever value is current. Writes go
// through the Mutator and are never applied locally; they become visible
// when the backend pushes the next snapshot.
package catalogue

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/gamecat/internal/game"
	"github.com/roach88/gamecat/internal/observe"
	"github.com/roach88/gamecat/internal/remote"
)

// Store is the authoritative in-memory catalogue.
type Store struct {
	remote     remote.Collection
	collection string
	settings

	records   atomic.Pointer[[]game.Record]
	version   atomic.Int64
	ready     chan struct{}
	readyOnce sync.Once

	// applyMu serializes list replacement across subscriptions; a canceled
	// subscription never applies once it no longer holds it.
	applyMu sync.Mutex

	mu  sync.Mutex
	sub *Subscription
}

// NewStore creates a store over the named collection (DefaultCollection
// when empty). The list is empty until a subscription delivers.
func NewStore(c remote.Collection, collection string, opts ...Option) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	s := &Store{
		remote:     c,
		collection: collection,
		settings:   newSettings(opts),
		ready:      make(chan struct{}),
	}
	empty := []game.Record{}
	s.records.Store(&empty)
	return s
}

// Collection returns the watched collection name.
func (s *Store) Collection() string {
	return s.collection
}

// Subscribe starts the live watch and returns immediately.
//
// Establishment failures are reported, not returned: the returned
// Subscription is then already done and Err holds the failure. If a
// subscription is active it is returned as is. A canceled one is not waited
// for: it stops applying snapshots as soon as it observes the cancel, so
// Subscribe may be called from a Listener.
//
// ctx bounds the whole subscription: when it is done the subscription is
// canceled.
func (s *Store) Subscribe(ctx context.Context) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev := s.sub; prev != nil {
		if !prev.isCanceled() && !prev.isDone() {
			return prev
		}
	}

	w, err := s.remote.Watch(ctx, s.collection)
	if err != nil {
		serr := &SubscriptionError{
			Code:       ErrCodeWatchFailed,
			Message:    "cannot establish live watch",
			Collection: s.collection,
			Err:        err,
		}
		s.reportSubscriptionError(ctx, serr)
		sub := newSubscription(nil)
		sub.err = serr
		close(sub.done)
		s.sub = sub
		return sub
	}

	sub := newSubscription(w)
	s.sub = sub
	slog.Debug("subscription started", "collection", s.collection)
	go s.deliver(ctx, sub)
	return sub
}

// List returns a copy of the current records in store order.
func (s *Store) List() []game.Record {
	return slices.Clone(*s.records.Load())
}

// FindByID returns the record with the given id from the current list.
func (s *Store) FindByID(id string) (game.Record, bool) {
	for _, r := range *s.records.Load() {
		if r.ID == id {
			return r, true
		}
	}
	return game.Record{}, false
}

// Ready is closed once the first snapshot has been applied.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Version counts applied snapshots.
func (s *Store) Version() int64 {
	return s.version.Load()
}

// deliver applies the events of one subscription until it ends.
func (s *Store) deliver(ctx context.Context, sub *Subscription) {
	defer close(sub.done)
	// Releases the backend side when the stream ended on its own
	defer sub.watcher.Stop()

	events := sub.watcher.Events()
	var lastErr error
	for {
		select {
		case <-ctx.Done():
			sub.Cancel()
			return
		case <-sub.cancel:
			return
		case ev, ok := <-events:
			if !ok {
				if sub.isCanceled() {
					return
				}
				if lastErr != nil {
					sub.err = lastErr
					return
				}
				serr := &SubscriptionError{
					Code:       ErrCodeStreamClosed,
					Message:    "live watch ended",
					Collection: s.collection,
				}
				s.reportSubscriptionError(ctx, serr)
				sub.err = serr
				return
			}
			if sub.isCanceled() {
				return
			}
			if ev.Err != nil {
				serr := &SubscriptionError{
					Code:       ErrCodeStreamError,
					Message:    "live watch delivered an error",
					Collection: s.collection,
					Err:        ev.Err,
				}
				s.reportSubscriptionError(ctx, serr)
				lastErr = serr
				continue
			}
			if ev.Snapshot != nil {
				lastErr = nil
				s.apply(ctx, sub, ev.Snapshot)
			}
		}
	}
}

// apply decodes a snapshot and replaces the list with it. Undecodable
// documents and repeated ids are skipped and reported.
func (s *Store) apply(ctx context.Context, sub *Subscription, snap *remote.Snapshot) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	if sub.isCanceled() {
		return
	}

	records := make([]game.Record, 0, len(snap.Documents))
	seen := make(map[string]struct{}, len(snap.Documents))

	for _, doc := range snap.Documents {
		rec, err := game.Decode(doc.ID, doc.Fields)
		if err != nil {
			s.metrics.ObserveDecodeError()
			s.reporter.Report(ctx, observe.SeverityWarning, "skipping undecodable document",
				"collection", s.collection, "id", doc.ID, "error", err)
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			s.reporter.Report(ctx, observe.SeverityWarning, "skipping duplicate document id",
				"collection", s.collection, "id", rec.ID)
			continue
		}
		seen[rec.ID] = struct{}{}
		records = append(records, rec)
	}

	s.records.Store(&records)
	version := s.version.Add(1)
	s.metrics.ObserveSnapshot(len(records))
	s.readyOnce.Do(func() { close(s.ready) })

	slog.Debug("snapshot applied",
		"collection", s.collection,
		"seq", snap.Seq,
		"records", len(records),
		"version", version,
	)

	if s.listener != nil {
		s.listener(slices.Clone(records))
	}
}

func (s *Store) reportSubscriptionError(ctx context.Context, err *SubscriptionError) {
	s.metrics.ObserveSubscriptionError()
	s.reporter.Report(ctx, observe.SeverityError, "catalogue subscription error",
		"collection", s.collection, "code", string(err.Code), "error", err)
}

// Subscription is a handle on one live watch.
type Subscription struct {
	watcher    remote.Watcher
	cancel     chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
	err        error // written before done is closed
}

func newSubscription(w remote.Watcher) *Subscription {
	return &Subscription{
		watcher: w,
		cancel:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Cancel releases the live watch. Safe to call any number of times, from
// any goroutine, including after the subscription ended on its own.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancel)
		if s.watcher != nil {
			s.watcher.Stop()
		}
	})
}

// Done is closed once the subscription stopped applying snapshots.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns why the subscription ended: nil while running or after
// Cancel, otherwise the SubscriptionError that ended it.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Subscription) isCanceled() bool {
	select {
	case <-s.cancel:
		return true
	default:
		return false
	}
}

func (s *Subscription) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
