package remote

import "sync"

// Feed is the delivery half of a Watcher shared by all backends.
//
// Backends Push events from whatever goroutine observes a change; a single
// pump goroutine forwards them, in push order, to the Events channel. The
// internal queue is unbounded so a slow consumer never blocks a backend
// write path.
//
// Thread-safety:
//   - Push, Finish, Stop: safe from any goroutine
//   - Events: consumed by exactly one reader
type Feed struct {
	mu       sync.Mutex
	events   []Event
	finished bool
	signal   chan struct{} // buffered, size 1; closed by Finish

	out      chan Event
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	onStop   func()
}

// NewFeed creates a feed and starts its pump goroutine.
// onStop, if non-nil, runs once when Stop is first called.
func NewFeed(onStop func()) *Feed {
	f := &Feed{
		events: make([]Event, 0, 4),
		signal: make(chan struct{}, 1),
		out:    make(chan Event),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		onStop: onStop,
	}
	go f.pump()
	return f
}

// Events implements Watcher.
func (f *Feed) Events() <-chan Event {
	return f.out
}

// Push queues an event for delivery.
// Returns false if the feed was finished or stopped.
func (f *Feed) Push(ev Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.finished {
		return false
	}
	f.events = append(f.events, ev)

	// Non-blocking: buffer of 1 coalesces multiple signals
	select {
	case f.signal <- struct{}{}:
	default:
	}
	return true
}

// Fail queues err as the final event and finishes the feed.
func (f *Feed) Fail(err error) {
	f.Push(Event{Err: err})
	f.Finish()
}

// Finish signals that no more events will be pushed. Already queued events
// are still delivered, then Events is closed.
func (f *Feed) Finish() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.finished {
		return
	}
	f.finished = true
	close(f.signal)
}

// Stop implements Watcher. Queued events are dropped and Events is closed.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() {
		f.Finish()
		close(f.stop)
		if f.onStop != nil {
			f.onStop()
		}
	})
}

// Stopping returns a channel closed once Stop has been called.
// Backends select on it in their change-detection loops.
func (f *Feed) Stopping() <-chan struct{} {
	return f.stop
}

// Done returns a channel closed after the pump exited and Events was closed.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

func (f *Feed) pump() {
	defer close(f.done)
	defer close(f.out)

	for {
		if ev, ok := f.tryDequeue(); ok {
			select {
			case f.out <- ev:
				continue
			case <-f.stop:
				return
			}
		}

		if f.drained() {
			return
		}

		select {
		case <-f.stop:
			return
		case <-f.signal:
		}
	}
}

func (f *Feed) tryDequeue() (Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.events) == 0 {
		return Event{}, false
	}
	ev := f.events[0]

	// Nil out the slot so the snapshot can be collected
	f.events[0] = Event{}
	if len(f.events) == 1 {
		f.events = f.events[:0]
	} else {
		f.events = f.events[1:]
	}
	return ev, true
}

func (f *Feed) drained() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished && len(f.events) == 0
}
