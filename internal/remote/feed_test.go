package remote

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(seq int64) Event {
	return Event{Snapshot: &Snapshot{Collection: "games", Seq: seq}}
}

func receive(t *testing.T, ch <-chan Event) (Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		return ev, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}, false
	}
}

func TestFeed_DeliversInPushOrder(t *testing.T) {
	f := NewFeed(nil)
	defer f.Stop()

	for i := int64(1); i <= 5; i++ {
		require.True(t, f.Push(snap(i)))
	}

	for i := int64(1); i <= 5; i++ {
		ev, ok := receive(t, f.Events())
		require.True(t, ok)
		assert.Equal(t, i, ev.Snapshot.Seq)
	}
}

func TestFeed_PushDoesNotBlockWithoutReader(t *testing.T) {
	f := NewFeed(nil)
	defer f.Stop()

	done := make(chan struct{})
	go func() {
		for i := int64(0); i < 1000; i++ {
			f.Push(snap(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("push blocked on slow consumer")
	}
}

func TestFeed_FinishDrainsThenCloses(t *testing.T) {
	f := NewFeed(nil)
	f.Push(snap(1))
	f.Push(snap(2))
	f.Finish()

	assert.False(t, f.Push(snap(3)), "push after finish should be rejected")

	ev, ok := receive(t, f.Events())
	require.True(t, ok)
	assert.Equal(t, int64(1), ev.Snapshot.Seq)

	ev, ok = receive(t, f.Events())
	require.True(t, ok)
	assert.Equal(t, int64(2), ev.Snapshot.Seq)

	_, ok = receive(t, f.Events())
	assert.False(t, ok, "events should close after drain")
}

func TestFeed_FailDeliversErrorLast(t *testing.T) {
	f := NewFeed(nil)
	boom := errors.New("boom")
	f.Push(snap(1))
	f.Fail(boom)

	ev, ok := receive(t, f.Events())
	require.True(t, ok)
	require.NotNil(t, ev.Snapshot)

	ev, ok = receive(t, f.Events())
	require.True(t, ok)
	assert.ErrorIs(t, ev.Err, boom)

	_, ok = receive(t, f.Events())
	assert.False(t, ok)
}

func TestFeed_StopIsIdempotent(t *testing.T) {
	var calls int
	var mu sync.Mutex
	f := NewFeed(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	f.Push(snap(1))
	f.Stop()
	f.Stop()

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("pump did not exit after stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.False(t, f.Push(snap(2)))
}

func TestFeed_StopUnblocksPendingDelivery(t *testing.T) {
	f := NewFeed(nil)
	f.Push(snap(1))

	// Nobody reads; the pump is parked on the send
	time.Sleep(10 * time.Millisecond)
	f.Stop()

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("stop did not unblock pump")
	}
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("game")
	assert.Equal(t, "game-1", g.Generate())
	assert.Equal(t, "game-2", g.Generate())
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	g := UUIDv7Generator{}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := g.Generate()
		assert.Len(t, id, 36)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestCloneDocument_Independent(t *testing.T) {
	d := Document{ID: "a", Fields: map[string]any{"read": false}}
	c := CloneDocument(d)
	c.Fields["read"] = true
	assert.Equal(t, false, d.Fields["read"])
}
