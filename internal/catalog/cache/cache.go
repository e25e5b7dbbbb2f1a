// Package cache puts a Redis read-through cache in front of the service store.
//
// Entries are JSON-encoded services under "catalog:service:<id>". Concurrent
// misses for the same id are collapsed with singleflight. A Redis failure is
// never fatal: reads fall back to the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"certdesk/internal/catalog/models"
	id "certdesk/pkg/domain"
)

const (
	DefaultTTL = 5 * time.Minute
	keyPrefix  = "catalog:service:"
)

type Loader interface {
	FindByID(ctx context.Context, serviceID id.ServiceID) (*models.Service, error)
}

type Cache struct {
	rdb    redis.Cmdable
	loader Loader
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

func New(rdb redis.Cmdable, loader Loader, opts ...Option) *Cache {
	c := &Cache{rdb: rdb, loader: loader, ttl: DefaultTTL, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func key(serviceID id.ServiceID) string {
	return keyPrefix + serviceID.String()
}

// FindByID serves from Redis when possible and fills it on a miss. Store
// errors (including not found) are returned unchanged and never cached.
func (c *Cache) FindByID(ctx context.Context, serviceID id.ServiceID) (*models.Service, error) {
	k := key(serviceID)

	raw, err := c.rdb.Get(ctx, k).Bytes()
	switch {
	case err == nil:
		var svc models.Service
		if uerr := json.Unmarshal(raw, &svc); uerr == nil {
			return &svc, nil
		}
		c.logger.WarnContext(ctx, "catalog cache entry corrupt, reloading", "service_id", serviceID.String())
	case errors.Is(err, redis.Nil):
	default:
		c.logger.WarnContext(ctx, "catalog cache read failed", "service_id", serviceID.String(), "error", err)
	}

	v, err, _ := c.group.Do(k, func() (any, error) {
		svc, err := c.loader.FindByID(ctx, serviceID)
		if err != nil {
			return nil, err
		}
		c.fill(ctx, k, svc)
		return svc, nil
	})
	if err != nil {
		return nil, err
	}
	shared := v.(*models.Service)
	out := *shared
	out.Requirements = append([]models.RequirementDescriptor(nil), shared.Requirements...)
	return &out, nil
}

func (c *Cache) fill(ctx context.Context, k string, svc *models.Service) {
	raw, err := json.Marshal(svc)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, k, raw, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "catalog cache write failed", "key", k, "error", err)
	}
}

// Invalidate drops the cached entry after an update or delete.
func (c *Cache) Invalidate(ctx context.Context, serviceID id.ServiceID) error {
	return c.rdb.Del(ctx, key(serviceID)).Err()
}
