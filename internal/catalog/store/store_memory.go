package store

import (
	"context"
	"sort"
	"sync"

	"certdesk/internal/catalog/models"
	id "certdesk/pkg/domain"
	"certdesk/pkg/platform/sentinel"
)

// InMemory holds services in a map. It does not know about requests, so
// Delete never reports a service as in use.
type InMemory struct {
	mu       sync.RWMutex
	services map[id.ServiceID]*models.Service
}

func NewInMemory() *InMemory {
	return &InMemory{services: make(map[id.ServiceID]*models.Service)}
}

func (s *InMemory) Create(_ context.Context, svc *models.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.services[svc.ID]; exists {
		return sentinel.ErrConflict
	}
	s.services[svc.ID] = clone(svc)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, serviceID id.ServiceID) (*models.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[serviceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(svc), nil
}

// List returns every service ordered by name.
func (s *InMemory) List(_ context.Context) ([]*models.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Service, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, clone(svc))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *InMemory) Update(_ context.Context, svc *models.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[svc.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.services[svc.ID] = clone(svc)
	return nil
}

func (s *InMemory) Delete(_ context.Context, serviceID id.ServiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[serviceID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.services, serviceID)
	return nil
}

func clone(svc *models.Service) *models.Service {
	c := *svc
	c.Requirements = append([]models.RequirementDescriptor(nil), svc.Requirements...)
	return &c
}
