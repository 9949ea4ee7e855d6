package catalogue

import (
	"time"

	"github.com/roach88/gamecat/internal/game"
	"github.com/roach88/gamecat/internal/observe"
)

// DefaultCollection is the remote collection holding the games.
const DefaultCollection = "games"

// Listener is called on the delivery goroutine after every applied
// snapshot with a private copy of the new list. Snapshots are not applied
// while it runs.
type Listener func(records []game.Record)

type settings struct {
	reporter observe.Reporter
	metrics  *observe.Metrics
	listener Listener
	timeout  time.Duration
}

func newSettings(opts []Option) settings {
	s := settings{reporter: observe.NewSlogReporter(nil)}
	for _, opt := range opts {
		opt(&s)
	}
	if s.reporter == nil {
		s.reporter = observe.Discard{}
	}
	return s
}

// Option configures a Store or a Mutator. Options that do not apply to the
// component they are passed to are ignored.
type Option func(*settings)

// WithReporter sets where subscription, decode and mutation problems go.
// Default: slog.Default through observe.SlogReporter.
func WithReporter(r observe.Reporter) Option {
	return func(s *settings) {
		s.reporter = r
	}
}

// WithMetrics enables Prometheus counters.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithListener registers a callback for applied snapshots. Store only.
func WithListener(l Listener) Option {
	return func(s *settings) {
		s.listener = l
	}
}

// WithTimeout bounds each update request. Zero means no bound. Mutator only.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.timeout = d
	}
}
