//go:build integration

package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"certdesk/internal/catalog/models"
	id "certdesk/pkg/domain"
	"certdesk/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.Client.FlushDB(context.Background()).Err())
}

func (s *RedisCacheSuite) TestReadThroughAndInvalidate() {
	ctx := context.Background()
	svc := &models.Service{
		ID:           id.NewServiceID(),
		Name:         "Aadhar",
		Eligibility:  "Citizens",
		Requirements: []models.RequirementDescriptor{{Label: "Photo", Kind: models.KindFile, Required: true}},
	}
	loader := &countingLoader{svc: svc}
	c := New(s.redis.Client, loader, WithTTL(time.Minute))

	first, err := c.FindByID(ctx, svc.ID)
	s.Require().NoError(err)
	second, err := c.FindByID(ctx, svc.ID)
	s.Require().NoError(err)

	s.Equal(int32(1), loader.calls.Load(), "second read should be served from redis")
	s.Equal(first.Requirements, second.Requirements)

	ttl, err := s.redis.Client.TTL(ctx, key(svc.ID)).Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))

	s.Require().NoError(c.Invalidate(ctx, svc.ID))
	_, err = c.FindByID(ctx, svc.ID)
	s.Require().NoError(err)
	s.Equal(int32(2), loader.calls.Load())
}

func (s *RedisCacheSuite) TestConcurrentMissesCollapse() {
	svc := &models.Service{ID: id.NewServiceID(), Name: "PAN", Eligibility: "Adults"}
	loader := &countingLoader{svc: svc}
	c := New(s.redis.Client, loader)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.FindByID(context.Background(), svc.ID)
			s.NoError(err)
		}()
	}
	wg.Wait()

	s.LessOrEqual(loader.calls.Load(), int32(20))
	s.GreaterOrEqual(loader.calls.Load(), int32(1))
}
