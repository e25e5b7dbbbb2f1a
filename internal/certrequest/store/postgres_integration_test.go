//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	catalog "certdesk/internal/catalog/models"
	"certdesk/internal/certrequest/models"
	"certdesk/internal/certrequest/store"
	id "certdesk/pkg/domain"
	"certdesk/pkg/platform/sentinel"
	"certdesk/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "certificate_requests", "services")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) seedService() id.ServiceID {
	serviceID := id.NewServiceID()
	now := time.Now()
	_, err := s.postgres.DB.ExecContext(context.Background(), `
		INSERT INTO services (id, name, eligibility, requirements, created_by, created_at, updated_at)
		VALUES ($1, 'Income Certificate', 'Residents', '[]', $2, $3, $3)`,
		uuid.UUID(serviceID), uuid.New(), now)
	s.Require().NoError(err)
	return serviceID
}

func newTestRequest(applicant id.UserID, service id.ServiceID) *models.Request {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Request{
		ID:             id.NewRequestID(),
		ApplicantID:    applicant,
		ApplicantEmail: "citizen@example.com",
		ServiceID:      service,
		Requirements: []models.RequirementValue{
			{Label: "Aadhar", Kind: catalog.KindText, Value: "1234"},
		},
		Status:    models.StatusSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TestConcurrentLock verifies that racing staff produce exactly one lock holder.
func (s *PostgresStoreSuite) TestConcurrentLock() {
	ctx := context.Background()
	r := newTestRequest(id.UserID(uuid.New()), s.seedService())
	s.Require().NoError(s.store.CreateIfNoActive(ctx, r))

	const goroutines = 50
	var wg sync.WaitGroup
	var successCount atomic.Int32
	var lockedCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Lock(ctx, r.ID, id.UserID(uuid.New()), []models.Status{models.StatusSubmitted}, time.Now())
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrAlreadyUsed) {
				lockedCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one lock should succeed")
	s.Equal(int32(goroutines-1), lockedCount.Load(), "all others should see the lock held")

	found, err := s.store.FindByID(ctx, r.ID)
	s.Require().NoError(err)
	s.True(found.IsLocked)
	s.NotNil(found.LockedBy)
}

// TestConcurrentActiveApplication verifies the partial unique index admits one
// active request per applicant and service.
func (s *PostgresStoreSuite) TestConcurrentActiveApplication() {
	ctx := context.Background()
	applicant := id.UserID(uuid.New())
	service := s.seedService()

	const goroutines = 20
	var wg sync.WaitGroup
	var successCount atomic.Int32
	var conflictCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.CreateIfNoActive(ctx, newTestRequest(applicant, service))
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrAlreadyUsed) {
				conflictCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load())
	s.Equal(int32(goroutines-1), conflictCount.Load())
}

func (s *PostgresStoreSuite) TestDecideLifecycle() {
	ctx := context.Background()
	applicant := id.UserID(uuid.New())
	service := s.seedService()
	clerk := id.UserID(uuid.New())

	r := newTestRequest(applicant, service)
	s.Require().NoError(s.store.CreateIfNoActive(ctx, r))
	_, err := s.store.Lock(ctx, r.ID, clerk, []models.Status{models.StatusSubmitted}, time.Now())
	s.Require().NoError(err)

	s.Run("non-holder sees not found", func() {
		_, err := s.store.ExecuteLocked(ctx, r.ID, id.UserID(uuid.New()),
			func(*models.Request) error { return nil },
			func(*models.Request) {})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("holder rejects and lock is released", func() {
		updated, err := s.store.ExecuteLocked(ctx, r.ID, clerk,
			func(req *models.Request) error {
				return req.CanDecide(clerk, models.DecisionRejected, models.DecisionPayload{Note: "blurry scan"})
			},
			func(req *models.Request) {
				req.ApplyDecision(models.DecisionRejected, models.DecisionPayload{Note: "blurry scan"}, time.Now())
			})
		s.Require().NoError(err)
		s.Equal(models.StatusRejected, updated.Status)

		found, err := s.store.FindByID(ctx, r.ID)
		s.Require().NoError(err)
		s.False(found.IsLocked)
		s.Nil(found.LockedBy)
		s.Equal("blurry scan", found.RejectionNote)
		s.Empty(found.CertificateURL)
	})

	s.Run("rejected request frees the applicant to reapply", func() {
		s.NoError(s.store.CreateIfNoActive(ctx, newTestRequest(applicant, service)))
		err := s.store.CreateIfNoActive(ctx, newTestRequest(applicant, service))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("applicant listing filters by status", func() {
		mine, err := s.store.ListByApplicant(ctx, applicant, models.ApplicantListStatuses)
		s.Require().NoError(err)
		s.Len(mine, 1)
	})
}

// TestActiveStatusesBlockReapply walks a request through the workflow and checks
// the partial index still rejects a second application at each active status.
func (s *PostgresStoreSuite) TestActiveStatusesBlockReapply() {
	ctx := context.Background()
	applicant := id.UserID(uuid.New())
	service := s.seedService()
	clerk := id.UserID(uuid.New())
	officer := id.UserID(uuid.New())

	r := newTestRequest(applicant, service)
	s.Require().NoError(s.store.CreateIfNoActive(ctx, r))

	decide := func(actor id.UserID, workable models.Status, decision models.Decision, payload models.DecisionPayload) {
		_, err := s.store.Lock(ctx, r.ID, actor, []models.Status{workable}, time.Now())
		s.Require().NoError(err)
		_, err = s.store.ExecuteLocked(ctx, r.ID, actor,
			func(req *models.Request) error { return req.CanDecide(actor, decision, payload) },
			func(req *models.Request) { req.ApplyDecision(decision, payload, time.Now()) })
		s.Require().NoError(err)
	}
	reapply := func(want models.Status) {
		found, err := s.store.FindByID(ctx, r.ID)
		s.Require().NoError(err)
		s.Require().Equal(want, found.Status)
		err = s.store.CreateIfNoActive(ctx, newTestRequest(applicant, service))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed, "reapply while %s", want)
	}

	reapply(models.StatusSubmitted)

	decide(clerk, models.StatusSubmitted, models.DecisionInProcess, models.DecisionPayload{})
	reapply(models.StatusInProcess)

	decide(officer, models.StatusInProcess, models.DecisionApproved, models.DecisionPayload{
		CertificateURL: "https://res.cloudinary.com/demo/image/upload/certificates/income.png",
	})
	reapply(models.StatusApproved)
}
