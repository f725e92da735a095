package audit

import (
	"context"
	"log/slog"
)

// Worker consumes audit events from a channel and persists them. It keeps
// background processing off the intake hot path without wiring a broker.
type Worker struct {
	store  Store
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// AsyncStore decouples Emit from persistence: Append enqueues onto a
// buffered channel drained by a Worker. Reads pass through to the backing
// store.
type AsyncStore struct {
	store Store
	inbox chan Event
}

func NewAsyncStore(store Store, buffer int) *AsyncStore {
	if buffer <= 0 {
		buffer = 256
	}
	return &AsyncStore{store: store, inbox: make(chan Event, buffer)}
}

// Append enqueues the event. When the inbox is full it falls through to a
// synchronous append rather than dropping the event.
func (a *AsyncStore) Append(ctx context.Context, event Event) error {
	select {
	case a.inbox <- event:
		return nil
	default:
		return a.store.Append(ctx, event)
	}
}

func (a *AsyncStore) ListByEntity(ctx context.Context, entityID string) ([]Event, error) {
	return a.store.ListByEntity(ctx, entityID)
}

// Worker builds the drain loop for the inbox.
func (a *AsyncStore) Worker(logger *slog.Logger) *Worker {
	return NewWorker(a.store, a.inbox, logger)
}

// Run drains the inbox until ctx is cancelled. Append failures are logged
// and do not stop the worker; an audit sink outage must not halt intake.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil && w.logger != nil {
				w.logger.Error("audit append failed",
					"action", event.Action,
					"entity_id", event.EntityID,
					"error", err)
			}
		}
	}
}
