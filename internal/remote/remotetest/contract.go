// Package remotetest holds the behavioural contract every remote.Collection
// backend must satisfy, written once and run by each backend's tests.
package remotetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gamecat/internal/remote"
)

// Factory returns a fresh, empty collection store for one subtest.
// The factory is responsible for cleanup (t.Cleanup).
type Factory func(t *testing.T) remote.Collection

// DefaultTimeout bounds every wait for a pushed snapshot.
var DefaultTimeout = 5 * time.Second

// Run executes the contract suite against a backend.
func Run(t *testing.T, newCollection Factory) {
	t.Run("InitialSnapshotEmpty", func(t *testing.T) { testInitialSnapshotEmpty(t, newCollection(t)) })
	t.Run("CreatePushesSnapshot", func(t *testing.T) { testCreatePushesSnapshot(t, newCollection(t)) })
	t.Run("UpdateFieldIsPartial", func(t *testing.T) { testUpdateFieldIsPartial(t, newCollection(t)) })
	t.Run("UpdateUnknownID", func(t *testing.T) { testUpdateUnknownID(t, newCollection(t)) })
	t.Run("DeletePushesSnapshot", func(t *testing.T) { testDeletePushesSnapshot(t, newCollection(t)) })
	t.Run("CollectionsAreIsolated", func(t *testing.T) { testCollectionsAreIsolated(t, newCollection(t)) })
	t.Run("StopIsIdempotent", func(t *testing.T) { testStopIsIdempotent(t, newCollection(t)) })
	t.Run("CreationOrderPreserved", func(t *testing.T) { testCreationOrderPreserved(t, newCollection(t)) })
}

// NextSnapshot waits for the next snapshot on w, failing on error events.
func NextSnapshot(t *testing.T, w remote.Watcher) *remote.Snapshot {
	t.Helper()
	select {
	case ev, ok := <-w.Events():
		require.True(t, ok, "watch stream closed unexpectedly")
		require.NoError(t, ev.Err)
		require.NotNil(t, ev.Snapshot)
		return ev.Snapshot
	case <-time.After(DefaultTimeout):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

// WaitFor consumes snapshots until cond holds, returning the matching one.
// Backends may coalesce or repeat snapshots, so intermediate ones are skipped.
func WaitFor(t *testing.T, w remote.Watcher, cond func(*remote.Snapshot) bool) *remote.Snapshot {
	t.Helper()
	deadline := time.After(DefaultTimeout)
	for {
		select {
		case ev, ok := <-w.Events():
			require.True(t, ok, "watch stream closed unexpectedly")
			require.NoError(t, ev.Err)
			if ev.Snapshot != nil && cond(ev.Snapshot) {
				return ev.Snapshot
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching snapshot")
			return nil
		}
	}
}

// HasLen matches snapshots with exactly n documents.
func HasLen(n int) func(*remote.Snapshot) bool {
	return func(s *remote.Snapshot) bool { return len(s.Documents) == n }
}

func find(s *remote.Snapshot, id string) (remote.Document, bool) {
	for _, d := range s.Documents {
		if d.ID == id {
			return d, true
		}
	}
	return remote.Document{}, false
}

func testInitialSnapshotEmpty(t *testing.T, c remote.Collection) {
	ctx := context.Background()
	w, err := c.Watch(ctx, "games")
	require.NoError(t, err)
	defer w.Stop()

	s := NextSnapshot(t, w)
	assert.Equal(t, "games", s.Collection)
	assert.Empty(t, s.Documents)
}

func testCreatePushesSnapshot(t *testing.T, c remote.Collection) {
	ctx := context.Background()
	w, err := c.Watch(ctx, "games")
	require.NoError(t, err)
	defer w.Stop()
	NextSnapshot(t, w)

	id, err := c.Create(ctx, "games", map[string]any{"title": "Hades", "read": false})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	s := WaitFor(t, w, HasLen(1))
	assert.Equal(t, id, s.Documents[0].ID)
	assert.Equal(t, "Hades", s.Documents[0].Fields["title"])
	assert.Equal(t, false, s.Documents[0].Fields["read"])
}

func testUpdateFieldIsPartial(t *testing.T, c remote.Collection) {
	ctx := context.Background()
	id, err := c.Create(ctx, "games", map[string]any{"title": "Celeste", "developer": "EXOK", "read": false})
	require.NoError(t, err)

	w, err := c.Watch(ctx, "games")
	require.NoError(t, err)
	defer w.Stop()
	WaitFor(t, w, HasLen(1))

	require.NoError(t, c.UpdateField(ctx, "games", id, "read", true))

	s := WaitFor(t, w, func(s *remote.Snapshot) bool {
		d, ok := find(s, id)
		return ok && d.Fields["read"] == true
	})
	d, _ := find(s, id)
	assert.Equal(t, "Celeste", d.Fields["title"], "other fields must be untouched")
	assert.Equal(t, "EXOK", d.Fields["developer"])
	assert.Equal(t, id, d.ID)
}

func testUpdateUnknownID(t *testing.T, c remote.Collection) {
	ctx := context.Background()
	_, err := c.Create(ctx, "games", map[string]any{"title": "Tunic"})
	require.NoError(t, err)

	err = c.UpdateField(ctx, "games", "does-not-exist", "read", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, remote.ErrNotFound), "got %v", err)
}

func testDeletePushesSnapshot(t *testing.T, c remote.Collection) {
	ctx := context.Background()
	keep, err := c.Create(ctx, "games", map[string]any{"title": "Keep"})
	require.NoError(t, err)
	drop, err := c.Create(ctx, "games", map[string]any{"title": "Drop"})
	require.NoError(t, err)

	w, err := c.Watch(ctx, "games")
	require.NoError(t, err)
	defer w.Stop()
	WaitFor(t, w, HasLen(2))

	require.NoError(t, c.Delete(ctx, "games", drop))
	s := WaitFor(t, w, HasLen(1))
	assert.Equal(t, keep, s.Documents[0].ID)

	err = c.Delete(ctx, "games", drop)
	assert.True(t, errors.Is(err, remote.ErrNotFound), "got %v", err)
}

func testCollectionsAreIsolated(t *testing.T, c remote.Collection) {
	ctx := context.Background()
	_, err := c.Create(ctx, "other", map[string]any{"title": "Elsewhere"})
	require.NoError(t, err)

	w, err := c.Watch(ctx, "games")
	require.NoError(t, err)
	defer w.Stop()

	s := NextSnapshot(t, w)
	assert.Empty(t, s.Documents)
}

func testStopIsIdempotent(t *testing.T, c remote.Collection) {
	ctx := context.Background()
	w, err := c.Watch(ctx, "games")
	require.NoError(t, err)

	w.Stop()
	w.Stop()

	// Events drains to closed
	deadline := time.After(DefaultTimeout)
	for {
		select {
		case _, ok := <-w.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events not closed after stop")
		}
	}
}

func testCreationOrderPreserved(t *testing.T, c remote.Collection) {
	ctx := context.Background()
	var ids []string
	for _, title := range []string{"first", "second", "third"} {
		id, err := c.Create(ctx, "games", map[string]any{"title": title})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	w, err := c.Watch(ctx, "games")
	require.NoError(t, err)
	defer w.Stop()

	s := WaitFor(t, w, HasLen(3))
	got := make([]string, len(s.Documents))
	for i, d := range s.Documents {
		got[i] = d.ID
	}
	assert.Equal(t, ids, got)
}
