// Package memory provides an in-process live collection.
//
// Every write is broadcast synchronously (as a queued snapshot) to all
// watchers of the collection, so tests can drive the catalogue core
// deterministically. Replace and BroadcastError let tests push arbitrary
// snapshot contents and stream failures.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/gamecat/internal/remote"
)

// Compile-time contract assertion.
var _ remote.Collection = (*Store)(nil)

// UpdateHook runs before an UpdateField is applied. A non-nil error aborts
// the update and is returned to the caller.
type UpdateHook func(ctx context.Context, collection, id, field string, value any) error

// Store is an in-memory remote.Collection.
type Store struct {
	mu          sync.Mutex
	ids         remote.IDGenerator
	updateHook  UpdateHook
	collections map[string]*collection
	seq         int64
	closed      bool
}

type collection struct {
	docs     []remote.Document // creation order
	watchers map[*remote.Feed]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the generator used by Create. Default: UUIDv7Generator.
func WithIDGenerator(g remote.IDGenerator) Option {
	return func(s *Store) {
		s.ids = g
	}
}

// WithUpdateHook installs a hook consulted before every UpdateField.
func WithUpdateHook(h UpdateHook) Option {
	return func(s *Store) {
		s.updateHook = h
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		ids:         remote.UUIDv7Generator{},
		collections: make(map[string]*collection),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch implements remote.Collection. The current contents are queued as the
// first event before Watch returns.
func (s *Store) Watch(ctx context.Context, name string) (remote.Watcher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, remote.ErrClosed
	}

	c := s.collection(name)
	var feed *remote.Feed
	feed = remote.NewFeed(func() { s.unregister(name, feed) })
	feed.Push(remote.Event{Snapshot: c.snapshot(name, s.seq)})
	c.watchers[feed] = struct{}{}

	return feed, nil
}

// UpdateField implements remote.Collection.
func (s *Store) UpdateField(ctx context.Context, name, id, field string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.updateHook != nil {
		if err := s.updateHook(ctx, name, id, field, value); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return remote.ErrClosed
	}

	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", name, id, remote.ErrNotFound)
	}
	idx := c.index(id)
	if idx < 0 {
		return fmt.Errorf("update %s/%s: %w", name, id, remote.ErrNotFound)
	}

	doc := c.docs[idx]
	if doc.Fields == nil {
		doc.Fields = make(map[string]any)
	}
	doc.Fields[field] = value
	c.docs[idx] = doc

	s.broadcast(name, c)
	return nil
}

// Create implements remote.Collection.
func (s *Store) Create(ctx context.Context, name string, fields map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", remote.ErrClosed
	}

	id := s.ids.Generate()
	c := s.collection(name)
	c.docs = append(c.docs, remote.CloneDocument(remote.Document{ID: id, Fields: fields}))

	s.broadcast(name, c)
	return id, nil
}

// Delete implements remote.Collection.
func (s *Store) Delete(ctx context.Context, name, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return remote.ErrClosed
	}

	c, ok := s.collections[name]
	if !ok || c.index(id) < 0 {
		return fmt.Errorf("delete %s/%s: %w", name, id, remote.ErrNotFound)
	}
	c.docs = slices.DeleteFunc(c.docs, func(d remote.Document) bool { return d.ID == id })

	s.broadcast(name, c)
	return nil
}

// Replace overwrites the collection contents verbatim and pushes the result.
// Documents are stored as given, duplicates and malformed fields included.
func (s *Store) Replace(name string, docs []remote.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return remote.ErrClosed
	}

	c := s.collection(name)
	c.docs = make([]remote.Document, len(docs))
	for i, d := range docs {
		c.docs[i] = remote.CloneDocument(d)
	}

	s.broadcast(name, c)
	return nil
}

// BroadcastError delivers err to every watcher of the collection without
// ending their streams.
func (s *Store) BroadcastError(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		for feed := range c.watchers {
			feed.Push(remote.Event{Err: err})
		}
	}
}

// Documents returns a copy of the collection contents.
func (s *Store) Documents(name string) []remote.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return []remote.Document{}
	}
	out := make([]remote.Document, len(c.docs))
	for i, d := range c.docs {
		out[i] = remote.CloneDocument(d)
	}
	return out
}

// WatcherCount returns the number of live watchers on a collection.
func (s *Store) WatcherCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		return len(c.watchers)
	}
	return 0
}

// Close implements remote.Collection.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	var feeds []*remote.Feed
	for _, c := range s.collections {
		for feed := range c.watchers {
			feeds = append(feeds, feed)
		}
		c.watchers = make(map[*remote.Feed]struct{})
	}
	s.mu.Unlock()

	// Stop outside the lock: onStop re-enters unregister
	for _, feed := range feeds {
		feed.Stop()
	}
	return nil
}

// collection returns the named collection, creating it on first use.
// Caller must hold s.mu.
func (s *Store) collection(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{watchers: make(map[*remote.Feed]struct{})}
		s.collections[name] = c
	}
	return c
}

func (s *Store) unregister(name string, feed *remote.Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		delete(c.watchers, feed)
	}
}

// broadcast pushes the current contents to every watcher.
// Caller must hold s.mu, which keeps pushes in write order.
func (s *Store) broadcast(name string, c *collection) {
	s.seq++
	snap := c.snapshot(name, s.seq)
	for feed := range c.watchers {
		feed.Push(remote.Event{Snapshot: snap})
	}
}

func (c *collection) snapshot(name string, seq int64) *remote.Snapshot {
	docs := make([]remote.Document, len(c.docs))
	for i, d := range c.docs {
		docs[i] = remote.CloneDocument(d)
	}
	return &remote.Snapshot{Collection: name, Seq: seq, Documents: docs}
}

func (c *collection) index(id string) int {
	return slices.IndexFunc(c.docs, func(d remote.Document) bool { return d.ID == id })
}
