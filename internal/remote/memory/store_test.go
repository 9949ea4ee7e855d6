package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gamecat/internal/remote"
	"github.com/roach88/gamecat/internal/remote/remotetest"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := New(opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestContract(t *testing.T) {
	remotetest.Run(t, func(t *testing.T) remote.Collection {
		return newTestStore(t)
	})
}

func TestCreate_UsesIDGenerator(t *testing.T) {
	s := newTestStore(t, WithIDGenerator(remote.NewSequenceGenerator("game")))

	id, err := s.Create(context.Background(), "games", map[string]any{"title": "a"})
	require.NoError(t, err)
	assert.Equal(t, "game-1", id)
}

func TestCreate_CopiesFields(t *testing.T) {
	s := newTestStore(t)
	fields := map[string]any{"title": "original"}

	_, err := s.Create(context.Background(), "games", fields)
	require.NoError(t, err)
	fields["title"] = "mutated by caller"

	docs := s.Documents("games")
	require.Len(t, docs, 1)
	assert.Equal(t, "original", docs[0].Fields["title"])
}

func TestReplace_KeepsDocumentsVerbatim(t *testing.T) {
	s := newTestStore(t)
	w, err := s.Watch(context.Background(), "games")
	require.NoError(t, err)
	defer w.Stop()
	remotetest.NextSnapshot(t, w)

	docs := []remote.Document{
		{ID: "a", Fields: map[string]any{"read": "yes"}},
		{ID: "a", Fields: map[string]any{"read": true}},
	}
	require.NoError(t, s.Replace("games", docs))

	snap := remotetest.NextSnapshot(t, w)
	require.Len(t, snap.Documents, 2)
	assert.Equal(t, "yes", snap.Documents[0].Fields["read"])
}

func TestBroadcastError_KeepsStreamOpen(t *testing.T) {
	s := newTestStore(t)
	w, err := s.Watch(context.Background(), "games")
	require.NoError(t, err)
	defer w.Stop()
	remotetest.NextSnapshot(t, w)

	boom := errors.New("permission denied")
	s.BroadcastError("games", boom)

	ev := <-w.Events()
	assert.ErrorIs(t, ev.Err, boom)

	_, err = s.Create(context.Background(), "games", map[string]any{})
	require.NoError(t, err)
	snap := remotetest.NextSnapshot(t, w)
	assert.Len(t, snap.Documents, 1)
}

func TestUpdateHook_AbortsUpdate(t *testing.T) {
	denied := errors.New("denied")
	s := newTestStore(t, WithUpdateHook(func(ctx context.Context, collection, id, field string, value any) error {
		return denied
	}))

	id, err := s.Create(context.Background(), "games", map[string]any{"read": false})
	require.NoError(t, err)

	err = s.UpdateField(context.Background(), "games", id, "read", true)
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, false, s.Documents("games")[0].Fields["read"])
}

func TestStop_Unregisters(t *testing.T) {
	s := newTestStore(t)
	w, err := s.Watch(context.Background(), "games")
	require.NoError(t, err)
	assert.Equal(t, 1, s.WatcherCount("games"))

	w.Stop()
	assert.Equal(t, 0, s.WatcherCount("games"))
}

func TestClose_StopsWatchersAndRejectsCalls(t *testing.T) {
	s := New()
	w, err := s.Watch(context.Background(), "games")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second close is a no-op")

	for range w.Events() {
	}

	_, err = s.Watch(context.Background(), "games")
	assert.ErrorIs(t, err, remote.ErrClosed)
	_, err = s.Create(context.Background(), "games", nil)
	assert.ErrorIs(t, err, remote.ErrClosed)
	assert.ErrorIs(t, s.UpdateField(context.Background(), "games", "x", "read", true), remote.ErrClosed)
}

func TestWatch_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Watch(ctx, "games")
	assert.ErrorIs(t, err, context.Canceled)
}
