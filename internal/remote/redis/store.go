// Package redis provides a remote.Collection backed by Redis.
//
// Layout per collection:
//
//	gamecat:<collection>:docs     hash   id -> JSON fields
//	gamecat:<collection>:order    zset   id scored by creation sequence
//	gamecat:<collection>:seq      string creation counter
//	gamecat:<collection>:changes  pub/sub channel, one message per write
//
// Writes run in MULTI/EXEC together with their PUBLISH; watchers reload the
// collection on every message.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/roach88/gamecat/internal/remote"
)

// Compile-time contract assertion.
var _ remote.Collection = (*Store)(nil)

// DefaultURL is used when Open receives an empty URL.
const DefaultURL = "redis://localhost:6379/0"

const keyPrefix = "gamecat"

func docsKey(collection string) string  { return keyPrefix + ":" + collection + ":docs" }
func orderKey(collection string) string { return keyPrefix + ":" + collection + ":order" }
func seqKey(collection string) string   { return keyPrefix + ":" + collection + ":seq" }
func channel(collection string) string  { return keyPrefix + ":" + collection + ":changes" }

// Store is a Redis remote.Collection.
type Store struct {
	client *goredis.Client
	ids    remote.IDGenerator

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

// Open parses a redis:// URL (falls back to DefaultURL), connects and pings.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	if url == "" {
		url = DefaultURL
	}
	options, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, opts...), nil
}

// New wraps an existing client. The Store owns it and closes it on Close.
func New(client *goredis.Client, opts ...Option) *Store {
	s := &Store{
		client:   client,
		ids:      remote.UUIDv7Generator{},
		watchers: make(map[*watcher]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores the document and appends it to the collection order.
func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return "", err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("create: encode fields: %w", err)
	}

	seq, err := s.client.Incr(ctx, seqKey(collection)).Result()
	if err != nil {
		return "", fmt.Errorf("create: next sequence: %w", err)
	}

	id := s.ids.Generate()
	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, docsKey(collection), id, string(body))
		p.ZAdd(ctx, orderKey(collection), goredis.Z{Score: float64(seq), Member: id})
		p.Publish(ctx, channel(collection), id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	return id, nil
}

// UpdateField rewrites one key of the stored body under WATCH. A concurrent
// write to the hash aborts the transaction with goredis.TxFailedErr.
func (s *Store) UpdateField(ctx context.Context, collection, id, field string, value any) error {
	if err := s.ensureOpen(ctx); err != nil {
		return err
	}

	key := docsKey(collection)
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		raw, err := tx.HGet(ctx, key, id).Result()
		if errors.Is(err, goredis.Nil) {
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

		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, key, id, string(body))
			p.Publish(ctx, channel(collection), id)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return nil
}

// Delete removes a document from both the hash and the order.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := s.ensureOpen(ctx); err != nil {
		return err
	}

	key := docsKey(collection)
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.HExists(ctx, key, id).Result()
		if err != nil {
			return err
		}
		if !exists {
			return remote.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HDel(ctx, key, id)
			p.ZRem(ctx, orderKey(collection), id)
			p.Publish(ctx, channel(collection), id)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Close stops all watchers and closes the client. Safe to call more than once.
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
	return s.client.Close()
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

// load reads the order then the bodies. An id whose body vanished between
// the two reads is skipped; the delete's own message triggers a reload.
func (s *Store) load(ctx context.Context, collection string, seq int64) (*remote.Snapshot, error) {
	ids, err := s.client.ZRange(ctx, orderKey(collection), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read order: %w", err)
	}

	docs := make([]remote.Document, 0, len(ids))
	if len(ids) > 0 {
		vals, err := s.client.HMGet(ctx, docsKey(collection), ids...).Result()
		if err != nil {
			return nil, fmt.Errorf("read documents: %w", err)
		}
		for i, v := range vals {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			fields := map[string]any{}
			if err := json.Unmarshal([]byte(raw), &fields); err != nil {
				return nil, fmt.Errorf("decode document %s: %w", ids[i], err)
			}
			docs = append(docs, remote.Document{ID: ids[i], Fields: fields})
		}
	}
	return &remote.Snapshot{Collection: collection, Seq: seq, Documents: docs}, nil
}
