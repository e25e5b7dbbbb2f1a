// Package retention deletes audit entries once they pass their expiry.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	audit "certdesk/pkg/platform/audit"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep hourly.
const DefaultSchedule = "@every 1h"

// Expirer deletes entries that expired at or before now.
type Expirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Sweeper struct {
	store    Expirer
	schedule string
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *audit.Metrics
	now      func() time.Time
	cron     *cron.Cron
}

type Option func(*Sweeper)

func WithSchedule(spec string) Option {
	return func(s *Sweeper) { s.schedule = spec }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

func WithMetrics(m *audit.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func New(store Expirer, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    store,
		schedule: DefaultSchedule,
		timeout:  time.Minute,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweep audit entries: %w", err)
	}
	s.metrics.AddSwept(n)
	return n, nil
}

// Start schedules the sweep. Stop must be called to release the scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.schedule, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule audit sweep %q: %w", s.schedule, err)
	}
	s.cron = c
	c.Start()
	s.logger.InfoContext(ctx, "audit retention sweep scheduled", "schedule", s.schedule)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *Sweeper) tick(parent context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.timeout)
	defer cancel()

	n, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "audit retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "audit retention sweep", "deleted", n)
	}
}
