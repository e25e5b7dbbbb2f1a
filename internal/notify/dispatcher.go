package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"certdesk/pkg/platform/circuit"
)

var ErrQueueFull = errors.New("notification queue full")

type job struct {
	to   string
	kind Kind
	data Data
}

// Dispatcher is a Notifier that returns immediately and delivers through the
// wrapped Notifier on a background worker. Each send is bounded by a timeout
// and guarded by a circuit breaker.
type Dispatcher struct {
	next    Notifier
	logger  *slog.Logger
	metrics *Metrics
	breaker *circuit.Breaker
	timeout time.Duration

	queue chan job
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type DispatcherOption func(*Dispatcher)

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithBreaker(b *circuit.Breaker) DispatcherOption {
	return func(d *Dispatcher) { d.breaker = b }
}

func WithSendTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan job, n)
		}
	}
}

func NewDispatcher(next Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		next:    next,
		logger:  slog.Default(),
		timeout: 10 * time.Second,
		queue:   make(chan job, 64),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.breaker == nil {
		d.breaker = circuit.New("notifier")
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Notify queues the message. It only fails when the queue is full or the
// dispatcher is closed; delivery errors are logged by the worker.
func (d *Dispatcher) Notify(ctx context.Context, to string, kind Kind, data Data) error {
	if err := validateRecipient(to, kind); err != nil {
		d.metrics.dropped("invalid")
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.dropped("closed")
		return errors.New("notification dispatcher closed")
	}

	select {
	case d.queue <- job{to: to, kind: kind, data: data}:
		return nil
	default:
		d.metrics.dropped("queue_full")
		d.logger.WarnContext(ctx, "notification queue full, message dropped", "kind", string(kind))
		return ErrQueueFull
	}
}

// Close stops accepting messages and waits for queued ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	if !d.breaker.Allow() {
		d.metrics.dropped("circuit_open")
		d.logger.Warn("notification skipped, provider circuit open", "kind", string(j.kind))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.next.Notify(ctx, j.to, j.kind, j.data); err != nil {
		d.metrics.failed(j.kind)
		if _, change := d.breaker.RecordFailure(); change.Opened {
			d.metrics.breakerOpen(true)
			d.logger.Error("notifier circuit opened", "breaker", d.breaker.Name())
		}
		d.logger.Error("notification failed", "kind", string(j.kind), "error", err)
		return
	}

	d.metrics.sent(j.kind)
	if _, change := d.breaker.RecordSuccess(); change.Closed {
		d.metrics.breakerOpen(false)
		d.logger.Info("notifier circuit closed", "breaker", d.breaker.Name())
	}
}
