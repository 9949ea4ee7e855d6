// Package remote defines the live collection contract the catalogue core
// talks to, plus the pieces shared by every backend.
//
// A live collection pushes full snapshots of its documents: one on watch
// establishment, then one per change. Backends live in subpackages:
//   - memory: in-process, used by tests and the memory driver
//   - sqlite: embedded file, version polling for cross-process changes
//   - postgres: LISTEN/NOTIFY
//   - redis: pub/sub
package remote

import (
	"context"
	"errors"
	"maps"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound is returned by UpdateField and Delete for an unknown id.
	ErrNotFound = errors.New("document not found")

	// ErrClosed is returned by any operation on a closed collection.
	ErrClosed = errors.New("collection closed")
)

// Document is one record of a collection as stored remotely.
type Document struct {
	ID     string
	Fields map[string]any
}

// Snapshot is the full content of a collection at one point in time.
// Documents are in store-defined order (creation order for every backend here).
type Snapshot struct {
	Collection string
	Seq        int64
	Documents  []Document
}

// Event is one delivery on a watch stream: either a snapshot or an error.
type Event struct {
	Snapshot *Snapshot
	Err      error
}

// Watcher is a live subscription to one collection.
//
// Events is closed once the watcher stops, either because Stop was called or
// because the backend hit an unrecoverable error (delivered as a final Event
// with Err set before the close).
type Watcher interface {
	Events() <-chan Event
	// Stop releases the watch. Safe to call more than once.
	Stop()
}

// Collection is a remote store of named live collections.
type Collection interface {
	// Watch starts a live subscription on the named collection.
	Watch(ctx context.Context, collection string) (Watcher, error)

	// UpdateField sets a single field on an existing document.
	// Other fields are left untouched.
	UpdateField(ctx context.Context, collection, id, field string, value any) error

	// Create inserts a document and returns the id assigned to it.
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)

	// Delete removes a document.
	Delete(ctx context.Context, collection, id string) error

	// Close releases backend resources. Active watchers are stopped.
	Close() error
}

// CloneDocument returns a copy of d whose field map can be handed out.
// Field values are shared; they are scalars in practice.
func CloneDocument(d Document) Document {
	return Document{ID: d.ID, Fields: maps.Clone(d.Fields)}
}
