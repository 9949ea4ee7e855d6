package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/gamecat/internal/remote"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is stored in PRAGMA user_version.
// 0: empty file, 1: documents + collection_versions.
const schemaVersion = 1

// DefaultPollInterval is how often watchers check for writes made through
// other connections (other processes sharing the file).
const DefaultPollInterval = 500 * time.Millisecond

// Compile-time contract assertion.
var _ remote.Collection = (*Store)(nil)

// Store is a remote.Collection persisted in a SQLite file.
type Store struct {
	db           *sql.DB
	ids          remote.IDGenerator
	pollInterval time.Duration

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

// WithPollInterval sets the cross-process change detection interval.
// Non-positive values keep the default.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// Open opens the catalogue file at path, creating it when missing. The file
// runs in WAL mode so watchers in other processes can read while one writes.
// Reopening an existing file is a no-op apart from the pragmas.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	// One connection: writes and the version bump share a transaction
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite %s: %w", path, err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite %s: %w", path, err)
	}

	s := &Store{
		db:           db,
		ids:          remote.UUIDv7Generator{},
		pollInterval: DefaultPollInterval,
		watchers:     make(map[*watcher]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close stops all watchers and closes the database connection.
// Safe to call more than once.
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

	return s.db.Close()
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

func applyPragmas(db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// applySchema creates missing tables and stamps user_version. Files written
// by a newer build are refused.
func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("catalogue file schema %d is newer than supported %d", version, schemaVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ensureOpen guards every operation; the connection is gone after Close.
func (s *Store) ensureOpen(ctx context.Context) error {
	if s.isClosed() {
		return remote.ErrClosed
	}
	return ctx.Err()
}
