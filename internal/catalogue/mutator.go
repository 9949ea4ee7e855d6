package catalogue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/gamecat/internal/game"
	"github.com/roach88/gamecat/internal/observe"
	"github.com/roach88/gamecat/internal/remote"
)

// Mutator sends read status updates to the remote collection.
//
// Requests are fire-and-forget: each runs on its own goroutine and nothing
// changes locally. Concurrent requests for one record are last-write-wins.
type Mutator struct {
	remote     remote.Collection
	collection string
	settings

	wg sync.WaitGroup
}

// NewMutator creates a mutator over the named collection (DefaultCollection
// when empty).
func NewMutator(c remote.Collection, collection string, opts ...Option) *Mutator {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Mutator{
		remote:     c,
		collection: collection,
		settings:   newSettings(opts),
	}
}

// SetReadStatus requests a partial update of the read field of one record.
//
// It returns at once. The outcome (nil or a *MutationError) is delivered
// exactly once on the returned channel, which is buffered so the caller may
// ignore it. Failures are also reported; there is no retry.
func (m *Mutator) SetReadStatus(ctx context.Context, id string, read bool) <-chan error {
	result := make(chan error, 1)

	if strings.TrimSpace(id) == "" {
		err := &MutationError{
			Code:       ErrCodeInvalidID,
			Message:    "record id is empty",
			Collection: m.collection,
			ID:         id,
			Value:      read,
		}
		m.fail(ctx, err)
		result <- err
		close(result)
		return result
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(result)
		result <- m.update(ctx, id, read)
	}()
	return result
}

// ToggleReadStatus requests the inverse of the caller's view of rec.Read.
// No compare-and-swap: two concurrent toggles from the same view both write
// the same value.
func (m *Mutator) ToggleReadStatus(ctx context.Context, rec game.Record) <-chan error {
	return m.SetReadStatus(ctx, rec.ID, !rec.Read)
}

// Wait blocks until every request issued so far has finished.
func (m *Mutator) Wait() {
	m.wg.Wait()
}

func (m *Mutator) update(ctx context.Context, id string, read bool) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	err := m.remote.UpdateField(ctx, m.collection, id, game.FieldRead, read)
	m.metrics.ObserveMutation(err)
	if err == nil {
		slog.Debug("read status updated", "collection", m.collection, "id", id, "read", read)
		return nil
	}

	merr := &MutationError{
		Code:       classify(err),
		Message:    "read status update failed",
		Collection: m.collection,
		ID:         id,
		Value:      read,
		Err:        err,
	}
	m.fail(ctx, merr)
	return merr
}

func (m *Mutator) fail(ctx context.Context, err *MutationError) {
	m.reporter.Report(context.WithoutCancel(ctx), observe.SeverityError, "read status update failed",
		"collection", m.collection, "id", err.ID, "read", err.Value, "code", string(err.Code), "error", err)
}

func classify(err error) ErrorCode {
	switch {
	case errors.Is(err, remote.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	default:
		return ErrCodeUpdateFailed
	}
}
