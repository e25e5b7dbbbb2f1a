package worker

import (
	"context"
	"log/slog"
	"time"

	audit "certdesk/pkg/platform/audit"
	"certdesk/pkg/platform/circuit"
)

// Worker drains audit entries from a channel into a store. A failed append is
// logged and the entry dropped; the worker keeps running. While the breaker is
// open entries are dropped without touching the store.
type Worker struct {
	store   audit.Store
	inbox   <-chan audit.Entry
	logger  *slog.Logger
	breaker *circuit.Breaker
	onDrop  func()
	timeout time.Duration
}

// DefaultAppendTimeout bounds a single store append.
const DefaultAppendTimeout = 5 * time.Second

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(w *Worker) { w.breaker = b }
}

// WithAppendTimeout bounds each store append. Non-positive values keep the default.
func WithAppendTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithDropHook is called once for every entry that is not persisted.
func WithDropHook(fn func()) Option {
	return func(w *Worker) { w.onDrop = fn }
}

func NewWorker(store audit.Store, inbox <-chan audit.Entry, opts ...Option) *Worker {
	w := &Worker{store: store, inbox: inbox, logger: slog.Default(), timeout: DefaultAppendTimeout}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes entries until the inbox is closed. Cancelling ctx does not
// stop the loop early, so entries already queued are still written on shutdown;
// close the inbox to stop.
func (w *Worker) Run(ctx context.Context) {
	for entry := range w.inbox {
		w.persist(context.WithoutCancel(ctx), entry)
	}
}

func (w *Worker) persist(ctx context.Context, entry audit.Entry) {
	if w.breaker != nil && !w.breaker.Allow() {
		w.drop(ctx, entry, nil)
		return
	}
	appendCtx, cancel := context.WithTimeout(ctx, w.timeout)
	err := w.store.Append(appendCtx, entry)
	cancel()
	if err != nil {
		if w.breaker != nil {
			w.breaker.RecordFailure()
		}
		w.drop(ctx, entry, err)
		return
	}
	if w.breaker != nil {
		w.breaker.RecordSuccess()
	}
}

func (w *Worker) drop(ctx context.Context, entry audit.Entry, err error) {
	if w.onDrop != nil {
		w.onDrop()
	}
	attrs := []any{"action", entry.Action, "actor_id", entry.ActorID.String()}
	if err != nil {
		attrs = append(attrs, "error", err)
	} else {
		attrs = append(attrs, "reason", "circuit_open")
	}
	w.logger.WarnContext(ctx, "audit entry dropped", attrs...)
}
