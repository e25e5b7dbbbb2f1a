package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"certdesk/internal/certrequest/models"
	id "certdesk/pkg/domain"
	"certdesk/pkg/platform/sentinel"
)

// InMemory keeps requests in a map guarded by one mutex. Every conditional
// write (create-if-no-active, lock, locked execute) runs entirely under the
// lock, which gives it the same atomicity as the Postgres conditional update.
type InMemory struct {
	mu       sync.Mutex
	requests map[id.RequestID]*models.Request
}

func NewInMemory() *InMemory {
	return &InMemory{requests: make(map[id.RequestID]*models.Request)}
}

func (s *InMemory) CreateIfNoActive(_ context.Context, r *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.requests {
		if existing.ApplicantID == r.ApplicantID && existing.ServiceID == r.ServiceID && existing.Status.IsActive() {
			return sentinel.ErrAlreadyUsed
		}
	}
	s.requests[r.ID] = clone(r)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, requestID id.RequestID) (*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(r), nil
}

func (s *InMemory) FindAssigned(_ context.Context, requestID id.RequestID, staff id.UserID) (*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[requestID]
	if !ok || r.AssignedTo == nil || *r.AssignedTo != staff {
		return nil, sentinel.ErrNotFound
	}
	return clone(r), nil
}

func (s *InMemory) ListByStatus(_ context.Context, statuses []models.Status) ([]*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.collect(func(r *models.Request) bool {
		return slices.Contains(statuses, r.Status)
	}), nil
}

func (s *InMemory) ListByApplicant(_ context.Context, applicant id.UserID, statuses []models.Status) ([]*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.collect(func(r *models.Request) bool {
		return r.ApplicantID == applicant && slices.Contains(statuses, r.Status)
	}), nil
}

// Lock claims an unlocked request whose status is in workable.
// Returns ErrNotFound, ErrAlreadyUsed (held by someone) or ErrInvalidState
// (status outside workable).
func (s *InMemory) Lock(_ context.Context, requestID id.RequestID, staff id.UserID, workable []models.Status, now time.Time) (*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if r.IsLocked {
		return nil, sentinel.ErrAlreadyUsed
	}
	if !slices.Contains(workable, r.Status) {
		return nil, sentinel.ErrInvalidState
	}
	r.ApplyLock(staff, now)
	return clone(r), nil
}

// ExecuteLocked runs validate then mutate against the request held by staff.
// A request that does not exist or is not locked by staff is ErrNotFound.
func (s *InMemory) ExecuteLocked(_ context.Context, requestID id.RequestID, staff id.UserID, validate func(*models.Request) error, mutate func(*models.Request)) (*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[requestID]
	if !ok || !r.IsLocked || r.LockedBy == nil || *r.LockedBy != staff {
		return nil, sentinel.ErrNotFound
	}
	working := clone(r)
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.requests[requestID] = working
	return clone(working), nil
}

func (s *InMemory) collect(match func(*models.Request) bool) []*models.Request {
	out := make([]*models.Request, 0)
	for _, r := range s.requests {
		if match(r) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func clone(r *models.Request) *models.Request {
	c := *r
	c.Requirements = slices.Clone(r.Requirements)
	if r.LockedBy != nil {
		v := *r.LockedBy
		c.LockedBy = &v
	}
	if r.AssignedTo != nil {
		v := *r.AssignedTo
		c.AssignedTo = &v
	}
	return &c
}
