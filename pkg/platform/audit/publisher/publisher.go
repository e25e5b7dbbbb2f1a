// Package publisher is the fire-and-forget front of the audit pipeline.
//
// Emit never blocks on the sink when a buffer is configured: the entry is
// queued and a background worker appends it. A full buffer drops the entry.
// Without a buffer Emit appends synchronously, which tests rely on.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	id "certdesk/pkg/domain"
	audit "certdesk/pkg/platform/audit"
	"certdesk/pkg/platform/audit/worker"
	"certdesk/pkg/platform/circuit"
)

var (
	ErrBufferFull = errors.New("audit buffer full")
	ErrClosed     = errors.New("audit publisher closed")
	ErrNoReader   = audit.ErrNoReader
)

type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *audit.Metrics
	breaker *circuit.Breaker
	now     func() time.Time

	bufSize       int
	appendTimeout time.Duration
	inbox         chan audit.Entry
	wg            sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type Option func(*Publisher)

// WithAsyncBuffer enables asynchronous delivery through a queue of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) { p.bufSize = n }
}

// WithAppendTimeout bounds each asynchronous sink append.
func WithAppendTimeout(d time.Duration) Option {
	return func(p *Publisher) { p.appendTimeout = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithMetrics(m *audit.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithBreaker guards the sink in async mode.
func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Publisher) { p.breaker = b }
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufSize > 0 {
		p.inbox = make(chan audit.Entry, p.bufSize)
		wopts := []worker.Option{
			worker.WithLogger(p.logger),
			worker.WithAppendTimeout(p.appendTimeout),
			worker.WithDropHook(func() { p.metrics.IncDropped("sink_error") }),
		}
		if p.breaker != nil {
			wopts = append(wopts, worker.WithBreaker(p.breaker))
		}
		w := worker.NewWorker(store, p.inbox, wopts...)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.Run(context.Background())
		}()
	}
	return p
}

// Emit records an entry. ID and Timestamp are filled in when unset.
func (p *Publisher) Emit(ctx context.Context, entry audit.Entry) error {
	if entry.ID.IsNil() {
		entry.ID = id.NewAuditEntryID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = p.now()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.metrics.IncDropped("closed")
		return ErrClosed
	}

	if p.inbox == nil {
		if err := p.store.Append(ctx, entry); err != nil {
			p.metrics.IncDropped("sink_error")
			return err
		}
		p.metrics.IncEmitted(entry.Action)
		return nil
	}

	select {
	case p.inbox <- entry:
		p.metrics.IncEmitted(entry.Action)
		return nil
	default:
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	p.metrics.IncDropped("buffer_full")
	p.logger.WarnContext(ctx, "audit buffer full, entry dropped",
		"action", entry.Action,
		"actor_id", entry.ActorID.String(),
	)
	return ErrBufferFull
}

// List returns the most recent entries when the store can be read.
func (p *Publisher) List(ctx context.Context, limit int) ([]audit.Entry, error) {
	r, ok := p.store.(audit.Reader)
	if !ok {
		return nil, ErrNoReader
	}
	return r.ListRecent(ctx, limit)
}

// Close stops accepting entries and waits for queued ones to be written.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.inbox != nil {
		close(p.inbox)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
