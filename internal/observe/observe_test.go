package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverity(t *testing.T) {
	tests := []struct {
		sev   Severity
		name  string
		level slog.Level
	}{
		{SeverityDebug, "debug", slog.LevelDebug},
		{SeverityInfo, "info", slog.LevelInfo},
		{SeverityWarning, "warning", slog.LevelWarn},
		{SeverityError, "error", slog.LevelError},
		{Severity(42), "unknown", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.sev.String())
			assert.Equal(t, tt.level, tt.sev.Level())
		})
	}
}

func TestSlogReporter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := NewSlogReporter(logger)
	r.Report(context.Background(), SeverityWarning, "subscription failed", "collection", "games")

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, `msg="subscription failed"`)
	assert.Contains(t, out, "collection=games")
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	r.Report(context.Background(), SeverityError, "boom", "id", "g1", "error", errors.New("x"))
	r.Report(context.Background(), SeverityInfo, "fine")

	select {
	case <-r.Notify():
	default:
		t.Fatal("notify not signalled")
	}

	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, "boom", entries[0].Message)

	id, ok := entries[0].Attr("id")
	assert.True(t, ok)
	assert.Equal(t, "g1", id)
	_, ok = entries[1].Attr("id")
	assert.False(t, ok)
}

func TestMulti(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	Multi{a, nil, b, Discard{}}.Report(context.Background(), SeverityInfo, "hello")
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Len())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveSnapshot(3)
	m.ObserveSnapshot(5)
	m.ObserveSubscriptionError()
	m.ObserveDecodeError()
	m.ObserveDecodeError()
	m.ObserveMutation(nil)
	m.ObserveMutation(errors.New("denied"))
	m.ObserveMutation(errors.New("denied"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.snapshots))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.documents))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscriptionErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.decodeErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.mutations.WithLabelValues("error")))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSnapshot(1)
		m.ObserveSubscriptionError()
		m.ObserveDecodeError()
		m.ObserveMutation(nil)
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg).ObserveSnapshot(2)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "gamecat_catalogue_snapshots_applied_total 1"), body)
	assert.Contains(t, body, "gamecat_catalogue_records 2")
}
