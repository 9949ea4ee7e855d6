// Package observe carries the catalogue's observability collaborators:
// a fire-and-forget Reporter for problems worth a human look, and
// Prometheus counters for the sync loop.
package observe

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Severity ranks a report.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Level maps the severity onto slog.
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Reporter receives problems the catalogue cannot surface to a caller.
// Implementations must not block and must be safe for concurrent use.
type Reporter interface {
	Report(ctx context.Context, sev Severity, msg string, attrs ...any)
}

// SlogReporter writes reports to a slog.Logger (slog.Default when nil).
type SlogReporter struct {
	Logger *slog.Logger
}

// NewSlogReporter returns a reporter bound to l.
func NewSlogReporter(l *slog.Logger) *SlogReporter {
	return &SlogReporter{Logger: l}
}

func (r *SlogReporter) Report(ctx context.Context, sev Severity, msg string, attrs ...any) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Log(ctx, sev.Level(), msg, attrs...)
}

// Discard drops every report.
type Discard struct{}

func (Discard) Report(context.Context, Severity, string, ...any) {}

// Entry is one report captured by a Recorder.
type Entry struct {
	Severity Severity
	Message  string
	Attrs    []any
}

// Attr returns the value following key in the attrs list.
func (e Entry) Attr(key string) (any, bool) {
	for i := 0; i+1 < len(e.Attrs); i += 2 {
		if k, ok := e.Attrs[i].(string); ok && k == key {
			return e.Attrs[i+1], true
		}
	}
	return nil, false
}

// Recorder keeps every report in memory. Used by tests and by the CLI to
// summarize what went wrong during a short-lived session.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	notify  chan struct{}
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) Report(_ context.Context, sev Severity, msg string, attrs ...any) {
	r.mu.Lock()
	r.entries = append(r.entries, Entry{Severity: sev, Message: msg, Attrs: slices.Clone(attrs)})
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Entries returns a copy of the captured reports in arrival order.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.entries)
}

// Len returns the number of captured reports.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Notify is signalled (coalesced) after each report.
func (r *Recorder) Notify() <-chan struct{} {
	return r.notify
}

// Multi fans a report out to several reporters in order.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, sev Severity, msg string, attrs ...any) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, sev, msg, attrs...)
		}
	}
}
