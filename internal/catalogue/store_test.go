package catalogue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gamecat/internal/game"
	"github.com/roach88/gamecat/internal/observe"
	"github.com/roach88/gamecat/internal/remote"
	"github.com/roach88/gamecat/internal/remote/memory"
)

const waitTimeout = 5 * time.Second

func newTestStore(t *testing.T, opts ...Option) (*memory.Store, *Store, *observe.Recorder) {
	t.Helper()
	backend := memory.New(memory.WithIDGenerator(remote.NewSequenceGenerator("game")))
	t.Cleanup(func() { _ = backend.Close() })

	rec := observe.NewRecorder()
	opts = append([]Option{WithReporter(rec)}, opts...)
	return backend, NewStore(backend, "", opts...), rec
}

func subscribe(t *testing.T, s *Store) *Subscription {
	t.Helper()
	sub := s.Subscribe(context.Background())
	t.Cleanup(sub.Cancel)
	select {
	case <-s.Ready():
	case <-time.After(waitTimeout):
		t.Fatal("store never became ready")
	}
	return sub
}

func waitVersion(t *testing.T, s *Store, v int64) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Version() >= v }, waitTimeout, time.Millisecond,
		"version stuck at %d, want %d", s.Version(), v)
}

func waitReports(t *testing.T, rec *observe.Recorder, n int) []observe.Entry {
	t.Helper()
	require.Eventually(t, func() bool { return rec.Len() >= n }, waitTimeout, time.Millisecond)
	return rec.Entries()
}

// counterValue sums every sample of a gathered metric family.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				sum += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				sum += m.GetGauge().GetValue()
			}
		}
		return sum
	}
	return 0
}

func doc(id string, read bool, title string) remote.Document {
	return remote.Document{ID: id, Fields: game.Record{Title: title, Read: read}.Fields()}
}

func ids(records []game.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestStore_EmptyBeforeSubscribe(t *testing.T) {
	_, s, _ := newTestStore(t)

	assert.NotNil(t, s.List())
	assert.Empty(t, s.List())
	assert.Equal(t, int64(0), s.Version())
	assert.Equal(t, DefaultCollection, s.Collection())

	select {
	case <-s.Ready():
		t.Fatal("ready before any snapshot")
	default:
	}
}

func TestStore_EmptyCollection(t *testing.T) {
	_, s, rec := newTestStore(t)
	subscribe(t, s)

	assert.Empty(t, s.List())
	_, ok := s.FindByID("anything")
	assert.False(t, ok)
	assert.Equal(t, 0, rec.Len())
}

func TestStore_TwoRecordScenario(t *testing.T) {
	backend, s, _ := newTestStore(t)
	require.NoError(t, backend.Replace(DefaultCollection, []remote.Document{
		doc("a", false, "Alpha"),
		doc("b", true, "Beta"),
	}))
	subscribe(t, s)

	require.Len(t, s.List(), 2)

	a, ok := s.FindByID("a")
	require.True(t, ok)
	assert.False(t, a.Read)

	b, ok := s.FindByID("b")
	require.True(t, ok)
	assert.True(t, b.Read)

	_, ok = s.FindByID("z")
	assert.False(t, ok)
}

func TestStore_EachPushReplacesList(t *testing.T) {
	backend, s, _ := newTestStore(t)
	subscribe(t, s)

	pushes := [][]remote.Document{
		{doc("a", false, "A"), doc("b", false, "B")},
		{doc("c", true, "C")},
		{},
		{doc("b", true, "B2"), doc("d", false, "D")},
	}
	want := [][]string{{"a", "b"}, {"c"}, {}, {"b", "d"}}

	for k, docs := range pushes {
		require.NoError(t, backend.Replace(DefaultCollection, docs))
		waitVersion(t, s, int64(k+2))
		assert.Equal(t, want[k], ids(s.List()), "after push %d", k)
	}

	b, ok := s.FindByID("b")
	require.True(t, ok)
	assert.Equal(t, "B2", b.Title)
	assert.True(t, b.Read)
	_, ok = s.FindByID("a")
	assert.False(t, ok, "records from earlier pushes must not survive")
}

func TestStore_FindByIDMatchesList(t *testing.T) {
	backend, s, _ := newTestStore(t)
	docs := []remote.Document{doc("x1", false, "One"), doc("x2", true, "Two"), doc("x3", false, "Three")}
	require.NoError(t, backend.Replace(DefaultCollection, docs))
	subscribe(t, s)

	for _, r := range s.List() {
		got, ok := s.FindByID(r.ID)
		require.True(t, ok, r.ID)
		assert.Equal(t, r, got)
	}
	for _, id := range []string{"", "x4", "X1", "x1 "} {
		_, ok := s.FindByID(id)
		assert.False(t, ok, "id %q", id)
	}
}

func TestStore_ListReturnsCopy(t *testing.T) {
	backend, s, _ := newTestStore(t)
	require.NoError(t, backend.Replace(DefaultCollection, []remote.Document{doc("a", false, "A")}))
	subscribe(t, s)

	list := s.List()
	list[0].Title = "changed"
	list[0].Read = true

	got, _ := s.FindByID("a")
	assert.Equal(t, "A", got.Title)
	assert.False(t, got.Read)
}

func TestStore_LegacyStatusDecoded(t *testing.T) {
	backend, s, rec := newTestStore(t)
	require.NoError(t, backend.Replace(DefaultCollection, []remote.Document{
		{ID: "old-read", Fields: map[string]any{"title": "Old", "status": "Lu"}},
		{ID: "old-new", Fields: map[string]any{"title": "Older", "status": " nouveau "}},
		{ID: "both", Fields: map[string]any{"title": "Both", "status": "Lu", "read": false}},
	}))
	subscribe(t, s)

	got, _ := s.FindByID("old-read")
	assert.True(t, got.Read)
	got, _ = s.FindByID("old-new")
	assert.False(t, got.Read)
	got, _ = s.FindByID("both")
	assert.False(t, got.Read, "boolean read wins over legacy status")
	assert.Equal(t, 0, rec.Len())
}

func TestStore_UndecodableDocumentsSkipped(t *testing.T) {
	reg := prometheus.NewRegistry()
	backend, s, rec := newTestStore(t, WithMetrics(observe.NewMetrics(reg)))

	require.NoError(t, backend.Replace(DefaultCollection, []remote.Document{
		doc("good", false, "Good"),
		{ID: "bad-status", Fields: map[string]any{"status": "Peut-être"}},
		{ID: "bad-read", Fields: map[string]any{"read": "yes"}},
		{ID: "bad-title", Fields: map[string]any{"title": 42}},
		{ID: "", Fields: map[string]any{"title": "No id"}},
	}))
	subscribe(t, s)

	assert.Equal(t, []string{"good"}, ids(s.List()))

	entries := waitReports(t, rec, 4)
	for _, e := range entries {
		assert.Equal(t, observe.SeverityWarning, e.Severity)
		errVal, ok := e.Attr("error")
		require.True(t, ok)
		assert.True(t, game.IsDecodeError(errVal.(error)))
	}
	assert.Equal(t, 4.0, counterValue(t, reg, "gamecat_catalogue_decode_errors_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "gamecat_catalogue_records"))
}

func TestStore_DuplicateIDsKeepFirst(t *testing.T) {
	backend, s, rec := newTestStore(t)
	require.NoError(t, backend.Replace(DefaultCollection, []remote.Document{
		doc("a", false, "first"),
		doc("b", false, "B"),
		doc("a", true, "second"),
	}))
	subscribe(t, s)

	assert.Equal(t, []string{"a", "b"}, ids(s.List()))
	a, _ := s.FindByID("a")
	assert.Equal(t, "first", a.Title)

	entries := waitReports(t, rec, 1)
	assert.Equal(t, "skipping duplicate document id", entries[0].Message)
}

func TestStore_StreamErrorKeepsStaleData(t *testing.T) {
	reg := prometheus.NewRegistry()
	backend, s, rec := newTestStore(t, WithMetrics(observe.NewMetrics(reg)))
	require.NoError(t, backend.Replace(DefaultCollection, []remote.Document{doc("a", false, "A")}))
	sub := subscribe(t, s)

	backend.BroadcastError(DefaultCollection, errors.New("permission denied"))

	entries := waitReports(t, rec, 1)
	assert.Equal(t, observe.SeverityError, entries[0].Severity)
	errVal, ok := entries[0].Attr("error")
	require.True(t, ok)
	var serr *SubscriptionError
	require.ErrorAs(t, errVal.(error), &serr)
	assert.Equal(t, ErrCodeStreamError, serr.Code)
	assert.EqualError(t, serr.Err, "permission denied")

	assert.Equal(t, []string{"a"}, ids(s.List()), "previous list must be kept")
	assert.Equal(t, int64(1), s.Version())
	assert.Equal(t, 1.0, counterValue(t, reg, "gamecat_catalogue_subscription_errors_total"))

	// The stream survives a non-terminal error
	require.NoError(t, backend.Replace(DefaultCollection, []remote.Document{doc("b", true, "B")}))
	waitVersion(t, s, 2)
	assert.Equal(t, []string{"b"}, ids(s.List()))
	assert.NoError(t, sub.Err())
}

func TestStore_WatchFailureReported(t *testing.T) {
	backend, s, rec := newTestStore(t)
	require.NoError(t, backend.Close())

	sub := s.Subscribe(context.Background())

	select {
	case <-sub.Done():
	default:
		t.Fatal("failed subscription must already be done")
	}
	require.Error(t, sub.Err())
	assert.True(t, IsSubscriptionError(sub.Err()))
	var serr *SubscriptionError
	require.ErrorAs(t, sub.Err(), &serr)
	assert.Equal(t, ErrCodeWatchFailed, serr.Code)
	assert.ErrorIs(t, sub.Err(), remote.ErrClosed)

	assert.Equal(t, 1, rec.Len())
	assert.Empty(t, s.List())
	assert.NotPanics(t, func() {
		sub.Cancel()
		sub.Cancel()
	})
}

func TestStore_StreamClosedByBackend(t *testing.T) {
	backend, s, rec := newTestStore(t)
	require.NoError(t, backend.Replace(DefaultCollection, []remote.Document{doc("a", false, "A")}))
	sub := subscribe(t, s)

	require.NoError(t, backend.Close())

	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("subscription did not end")
	}
	var serr *SubscriptionError
	require.ErrorAs(t, sub.Err(), &serr)
	assert.Equal(t, ErrCodeStreamClosed, serr.Code)
	assert.Equal(t, 1, rec.Len())
	assert.Equal(t, []string{"a"}, ids(s.List()))
}

func TestSubscription_CancelIsIdempotent(t *testing.T) {
	backend, s, rec := newTestStore(t)
	sub := subscribe(t, s)
	require.Equal(t, 1, backend.WatcherCount(DefaultCollection))

	sub.Cancel()
	sub.Cancel()

	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("subscription did not end")
	}
	assert.NoError(t, sub.Err())
	assert.Equal(t, 0, backend.WatcherCount(DefaultCollection))

	require.NoError(t, backend.Replace(DefaultCollection, []remote.Document{doc("late", false, "Late")}))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, s.List(), "no pushes after cancel")
	assert.Equal(t, int64(1), s.Version())
	assert.Equal(t, 0, rec.Len())

	sub.Cancel()
}

func TestStore_SubscribeReturnsActiveSubscription(t *testing.T) {
	backend, s, _ := newTestStore(t)
	first := subscribe(t, s)
	second := s.Subscribe(context.Background())
	assert.Same(t, first, second)
	assert.Equal(t, 1, backend.WatcherCount(DefaultCollection))

	first.Cancel()
	third := s.Subscribe(context.Background())
	t.Cleanup(third.Cancel)
	assert.NotSame(t, first, third)
	assert.Equal(t, 1, backend.WatcherCount(DefaultCollection), "canceled watch must be released")

	select {
	case <-first.Done():
	case <-time.After(waitTimeout):
		t.Fatal("canceled subscription did not end")
	}

	require.NoError(t, backend.Replace(DefaultCollection, []remote.Document{doc("a", false, "A")}))
	require.Eventually(t, func() bool {
		_, ok := s.FindByID("a")
		return ok
	}, waitTimeout, time.Millisecond)
}

func TestStore_ContextEndsSubscription(t *testing.T) {
	backend, s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	sub := s.Subscribe(ctx)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("subscription did not end with its context")
	}
	assert.NoError(t, sub.Err())
	require.Eventually(t, func() bool { return backend.WatcherCount(DefaultCollection) == 0 },
		waitTimeout, time.Millisecond)
}

func TestStore_ListenerGetsEveryApplication(t *testing.T) {
	got := make(chan []game.Record, 8)
	backend, s, _ := newTestStore(t, WithListener(func(records []game.Record) {
		got <- records
	}))
	subscribe(t, s)
	require.NoError(t, backend.Replace(DefaultCollection, []remote.Document{doc("a", false, "A")}))

	first := <-got
	assert.Empty(t, first)

	var second []game.Record
	select {
	case second = <-got:
	case <-time.After(waitTimeout):
		t.Fatal("listener not called for second snapshot")
	}
	require.Len(t, second, 1)

	second[0].Title = "mutated by listener"
	current, _ := s.FindByID("a")
	assert.Equal(t, "A", current.Title)
}

func TestStore_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	backend, s, _ := newTestStore(t)
	subscribe(t, s)

	stop := make(chan struct{})
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		for {
			select {
			case <-stop:
				return
			default:
			}
			list := s.List()
			// Every push below holds either zero or three records
			if len(list) != 0 && len(list) != 3 {
				errs <- errors.New("observed a partially applied snapshot")
				return
			}
		}
	}()

	for i := 0; i < 50; i++ {
		var docs []remote.Document
		if i%2 == 0 {
			docs = []remote.Document{doc("a", false, "A"), doc("b", false, "B"), doc("c", false, "C")}
		}
		require.NoError(t, backend.Replace(DefaultCollection, docs))
	}
	waitVersion(t, s, 51)
	close(stop)
	assert.NoError(t, <-errs)
}

// feedCollection hands out one Feed per Watch and counts backend releases.
type feedCollection struct {
	remote.Collection
	feeds   chan *remote.Feed
	stopped atomic.Int32
}

func newFeedCollection() *feedCollection {
	return &feedCollection{feeds: make(chan *remote.Feed, 4)}
}

func (c *feedCollection) Watch(ctx context.Context, collection string) (remote.Watcher, error) {
	f := remote.NewFeed(func() { c.stopped.Add(1) })
	f.Push(remote.Event{Snapshot: &remote.Snapshot{Collection: collection, Documents: []remote.Document{doc("a", false, "A")}}})
	c.feeds <- f
	return f, nil
}

func TestStore_StreamFailureReleasesWatcher(t *testing.T) {
	backend := newFeedCollection()
	rec := observe.NewRecorder()
	s := NewStore(backend, "", WithReporter(rec))
	sub := subscribe(t, s)
	feed := <-backend.feeds

	feed.Fail(errors.New("connection reset"))

	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("subscription did not end")
	}
	assert.Equal(t, int32(1), backend.stopped.Load(), "backend watch must be stopped when the stream ends")

	var serr *SubscriptionError
	require.ErrorAs(t, sub.Err(), &serr)
	assert.Equal(t, ErrCodeStreamError, serr.Code)
	assert.Equal(t, []string{"a"}, ids(s.List()))

	next := s.Subscribe(context.Background())
	t.Cleanup(next.Cancel)
	assert.NotSame(t, sub, next)
	<-backend.feeds
	waitVersion(t, s, 2)
	assert.Equal(t, int32(1), backend.stopped.Load())
}

func TestStore_ListenerCanResubscribe(t *testing.T) {
	backend, _, _ := newTestStore(t)
	require.NoError(t, backend.Replace(DefaultCollection, []remote.Document{doc("a", false, "A")}))

	var calls atomic.Int32
	var s *Store
	s = NewStore(backend, "", WithReporter(observe.Discard{}), WithListener(func([]game.Record) {
		if calls.Add(1) != 1 {
			return
		}
		current := s.Subscribe(context.Background())
		current.Cancel()
		s.Subscribe(context.Background())
	}))
	first := s.Subscribe(context.Background())

	select {
	case <-first.Done():
	case <-time.After(waitTimeout):
		t.Fatal("listener deadlocked on Subscribe")
	}
	waitVersion(t, s, 2)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, backend.WatcherCount(DefaultCollection))

	s.mu.Lock()
	active := s.sub
	s.mu.Unlock()
	assert.NotSame(t, first, active)
	active.Cancel()
}
