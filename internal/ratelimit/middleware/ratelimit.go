package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"certdesk/internal/ratelimit"
	"certdesk/internal/ratelimit/metrics"
	dErrors "certdesk/pkg/domain-errors"
	"certdesk/pkg/platform/httputil"
	"certdesk/pkg/platform/middleware/metadata"
	"certdesk/pkg/requestcontext"
)

type Middleware struct {
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns every check into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = metrics
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Middleware) {
		m.now = now
	}
}

func New(limiter *ratelimit.Limiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit keys the bucket on the authenticated actor when there is one and
// on the client IP otherwise.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		kind, key := "ip", "ip:"+metadata.GetClientIP(ctx)
		if userID := requestcontext.UserID(ctx); !userID.IsNil() {
			kind, key = "user", "user:"+userID.String()
		}

		result := m.limiter.Allow(key, m.now())
		addRateLimitHeaders(w, result)
		if !result.Allowed {
			m.metrics.IncRejected(kind)
			m.logger.WarnContext(ctx, "rate limit exceeded",
				"request_id", requestcontext.RequestID(ctx),
				"key_kind", kind,
				"retry_after", result.RetryAfter,
			)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, please retry later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Sweep evicts idle buckets and publishes the remaining count.
func (m *Middleware) Sweep() {
	m.metrics.SetBuckets(m.limiter.Sweep(m.now(), ratelimit.DefaultIdleTTL))
}

func addRateLimitHeaders(w http.ResponseWriter, result ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
