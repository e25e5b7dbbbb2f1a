package store

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
	id "certdesk/pkg/domain"
	"certdesk/pkg/platform/sentinel"
)

type RequestStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func TestRequestStoreSuite(t *testing.T) {
	suite.Run(t, new(RequestStoreSuite))
}

func (s *RequestStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
}

func (s *RequestStoreSuite) newRequest(applicant id.UserID, service id.ServiceID) *models.Request {
	return &models.Request{
		ID:          id.NewRequestID(),
		ApplicantID: applicant,
		ServiceID:   service,
		Requirements: []models.RequirementValue{
			{Label: "Aadhar", Kind: catalog.KindText, Value: "1234"},
		},
		Status:    models.StatusSubmitted,
		CreatedAt: s.now,
		UpdatedAt: s.now,
	}
}

func (s *RequestStoreSuite) TestActiveApplicationUniqueness() {
	applicant := id.UserID(uuid.New())
	service := id.NewServiceID()

	s.Run("second active application is rejected", func() {
		s.Require().NoError(s.store.CreateIfNoActive(s.ctx, s.newRequest(applicant, service)))
		err := s.store.CreateIfNoActive(s.ctx, s.newRequest(applicant, service))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("other services are independent", func() {
		s.NoError(s.store.CreateIfNoActive(s.ctx, s.newRequest(applicant, id.NewServiceID())))
	})

	for _, status := range []models.Status{models.StatusInProcess, models.StatusApproved} {
		s.Run("prior "+string(status)+" application blocks", func() {
			holder := id.UserID(uuid.New())
			first := s.newRequest(holder, service)
			first.Status = status
			s.Require().NoError(s.store.CreateIfNoActive(s.ctx, first))
			err := s.store.CreateIfNoActive(s.ctx, s.newRequest(holder, service))
			s.ErrorIs(err, sentinel.ErrAlreadyUsed)
		})
	}

	s.Run("rejected application frees the slot", func() {
		other := id.UserID(uuid.New())
		first := s.newRequest(other, service)
		first.Status = models.StatusRejected
		s.Require().NoError(s.store.CreateIfNoActive(s.ctx, first))
		s.NoError(s.store.CreateIfNoActive(s.ctx, s.newRequest(other, service)))
	})
}

func (s *RequestStoreSuite) TestLock() {
	clerk := id.UserID(uuid.New())
	workable := []models.Status{models.StatusSubmitted}

	s.Run("locks and assigns", func() {
		r := s.newRequest(id.UserID(uuid.New()), id.NewServiceID())
		s.Require().NoError(s.store.CreateIfNoActive(s.ctx, r))

		locked, err := s.store.Lock(s.ctx, r.ID, clerk, workable, s.now)
		s.Require().NoError(err)
		s.True(locked.IsLocked)
		s.Equal(clerk, *locked.LockedBy)
		s.Equal(clerk, *locked.AssignedTo)
	})

	s.Run("already locked", func() {
		r := s.newRequest(id.UserID(uuid.New()), id.NewServiceID())
		s.Require().NoError(s.store.CreateIfNoActive(s.ctx, r))
		_, err := s.store.Lock(s.ctx, r.ID, clerk, workable, s.now)
		s.Require().NoError(err)

		_, err = s.store.Lock(s.ctx, r.ID, id.UserID(uuid.New()), workable, s.now)
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("status outside queue", func() {
		r := s.newRequest(id.UserID(uuid.New()), id.NewServiceID())
		r.Status = models.StatusInProcess
		s.Require().NoError(s.store.CreateIfNoActive(s.ctx, r))
		_, err := s.store.Lock(s.ctx, r.ID, clerk, workable, s.now)
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("unknown id", func() {
		_, err := s.store.Lock(s.ctx, id.NewRequestID(), clerk, workable, s.now)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestConcurrentLock verifies exactly one of many racing staff wins the lock.
func (s *RequestStoreSuite) TestConcurrentLock() {
	r := s.newRequest(id.UserID(uuid.New()), id.NewServiceID())
	s.Require().NoError(s.store.CreateIfNoActive(s.ctx, r))

	const goroutines = 50
	var wg sync.WaitGroup
	var successCount atomic.Int32
	var lockedCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Lock(s.ctx, r.ID, id.UserID(uuid.New()), []models.Status{models.StatusSubmitted}, s.now)
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
}

func (s *RequestStoreSuite) TestExecuteLocked() {
	clerk := id.UserID(uuid.New())
	r := s.newRequest(id.UserID(uuid.New()), id.NewServiceID())
	s.Require().NoError(s.store.CreateIfNoActive(s.ctx, r))
	_, err := s.store.Lock(s.ctx, r.ID, clerk, []models.Status{models.StatusSubmitted}, s.now)
	s.Require().NoError(err)

	s.Run("other staff cannot execute", func() {
		_, err := s.store.ExecuteLocked(s.ctx, r.ID, id.UserID(uuid.New()),
			func(*models.Request) error { return nil },
			func(*models.Request) {})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("validation failure leaves row untouched", func() {
		_, err := s.store.ExecuteLocked(s.ctx, r.ID, clerk,
			func(*models.Request) error { return sentinel.ErrInvalidState },
			func(req *models.Request) { req.Status = models.StatusRejected })
		s.ErrorIs(err, sentinel.ErrInvalidState)

		found, err := s.store.FindByID(s.ctx, r.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusSubmitted, found.Status)
		s.True(found.IsLocked)
	})

	s.Run("holder applies decision", func() {
		updated, err := s.store.ExecuteLocked(s.ctx, r.ID, clerk,
			func(*models.Request) error { return nil },
			func(req *models.Request) {
				req.ApplyDecision(models.DecisionRejected, models.DecisionPayload{Note: "blurry scan"}, s.now)
			})
		s.Require().NoError(err)
		s.Equal(models.StatusRejected, updated.Status)
		s.False(updated.IsLocked)

		found, err := s.store.FindByID(s.ctx, r.ID)
		s.Require().NoError(err)
		s.Equal("blurry scan", found.RejectionNote)
	})
}

func (s *RequestStoreSuite) TestListings() {
	applicant := id.UserID(uuid.New())
	clerk := id.UserID(uuid.New())

	submitted := s.newRequest(applicant, id.NewServiceID())
	inProcess := s.newRequest(applicant, id.NewServiceID())
	inProcess.Status = models.StatusInProcess
	inProcess.CreatedAt = s.now.Add(time.Minute)
	rejected := s.newRequest(applicant, id.NewServiceID())
	rejected.Status = models.StatusRejected
	for _, r := range []*models.Request{submitted, inProcess, rejected} {
		s.Require().NoError(s.store.CreateIfNoActive(s.ctx, r))
	}

	queue, err := s.store.ListByStatus(s.ctx, []models.Status{models.StatusSubmitted})
	s.Require().NoError(err)
	s.Require().Len(queue, 1)
	s.Equal(submitted.ID, queue[0].ID)

	mine, err := s.store.ListByApplicant(s.ctx, applicant, models.ApplicantListStatuses)
	s.Require().NoError(err)
	s.Require().Len(mine, 2)
	s.Equal(submitted.ID, mine[0].ID, "ordered by creation time")

	_, err = s.store.FindAssigned(s.ctx, submitted.ID, clerk)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.Lock(s.ctx, submitted.ID, clerk, []models.Status{models.StatusSubmitted}, s.now)
	s.Require().NoError(err)
	found, err := s.store.FindAssigned(s.ctx, submitted.ID, clerk)
	s.Require().NoError(err)
	s.Equal(submitted.ID, found.ID)
}

func (s *RequestStoreSuite) TestReturnedCopiesAreIsolated() {
	r := s.newRequest(id.UserID(uuid.New()), id.NewServiceID())
	s.Require().NoError(s.store.CreateIfNoActive(s.ctx, r))

	found, err := s.store.FindByID(s.ctx, r.ID)
	s.Require().NoError(err)
	found.Status = models.StatusApproved
	found.Requirements[0].Value = "tampered"

	again, err := s.store.FindByID(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusSubmitted, again.Status)
	s.Equal("1234", again.Requirements[0].Value)
}
