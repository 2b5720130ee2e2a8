package worker

import (
	"context"
	"log/slog"

	audit "entityid/pkg/platform/audit"
)

// Worker consumes audit events from a channel and persists them. A failed
// write is logged and skipped; the loop ends when the inbox is closed and
// drained or the context is cancelled.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, opts ...Option) *Worker {
	w := &Worker{store: store, inbox: inbox, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.DebugContext(ctx, "audit worker skipped event",
					"action", event.Action,
					"error", err,
				)
			}
		}
	}
}
