package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"certdesk/internal/catalog/models"
	"certdesk/internal/policy"
	id "certdesk/pkg/domain"
	dErrors "certdesk/pkg/domain-errors"
	audit "certdesk/pkg/platform/audit"
	"certdesk/pkg/platform/sentinel"
	"certdesk/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, svc *models.Service) error
	FindByID(ctx context.Context, serviceID id.ServiceID) (*models.Service, error)
	List(ctx context.Context) ([]*models.Service, error)
	Update(ctx context.Context, svc *models.Service) error
	Delete(ctx context.Context, serviceID id.ServiceID) error
}

// Reader is the cached read path. When absent the store is read directly.
type Reader interface {
	FindByID(ctx context.Context, serviceID id.ServiceID) (*models.Service, error)
	Invalidate(ctx context.Context, serviceID id.ServiceID) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Draft is the admin-supplied content of a service.
type Draft struct {
	Name         string
	Eligibility  string
	Requirements []models.RequirementDescriptor
}

// Service is the catalog: a read path for the request engine and admin CRUD.
type Service struct {
	store          Store
	reader         Reader
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = publisher }
}

// WithCache routes Get through a read-through cache and invalidates it on
// every admin write.
func WithCache(reader Reader) Option {
	return func(s *Service) { s.reader = reader }
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("service store is required")
	}
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get loads a service descriptor. A transient failure is retried once since
// the read has no side effects.
func (s *Service) Get(ctx context.Context, serviceID id.ServiceID) (*models.Service, error) {
	svc, err := s.find(ctx, serviceID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) && ctx.Err() == nil {
		s.logger.WarnContext(ctx, "catalog read failed, retrying",
			"service_id", serviceID.String(),
			"error", err,
		)
		svc, err = s.find(ctx, serviceID)
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "service not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load service")
	}
	return svc, nil
}

func (s *Service) find(ctx context.Context, serviceID id.ServiceID) (*models.Service, error) {
	if s.reader != nil {
		return s.reader.FindByID(ctx, serviceID)
	}
	return s.store.FindByID(ctx, serviceID)
}

// List returns every service. Any authenticated caller may browse.
func (s *Service) List(ctx context.Context, actor policy.Actor) ([]*models.Service, error) {
	if actor.ID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list services")
	}
	return list, nil
}

func (s *Service) Create(ctx context.Context, actor policy.Actor, draft Draft) (*models.Service, error) {
	if err := policy.Authorize(actor, policy.OpManageServices); err != nil {
		return nil, err
	}

	svc, err := models.NewService(id.NewServiceID(), draft.Name, draft.Eligibility, draft.Requirements, actor.ID, requestcontext.Now(ctx))
	if err != nil {
		return nil, asValidation(err)
	}
	if err := s.store.Create(ctx, svc); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "service already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create service")
	}

	s.emit(ctx, actor, audit.ActionServiceCreated, fmt.Sprintf("Admin created a new service named %q", svc.Name))
	return svc, nil
}

func (s *Service) Update(ctx context.Context, actor policy.Actor, serviceID id.ServiceID, draft Draft) (*models.Service, error) {
	if err := policy.Authorize(actor, policy.OpManageServices); err != nil {
		return nil, err
	}

	svc, err := s.store.FindByID(ctx, serviceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "service not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load service")
	}
	if err := svc.ApplyUpdate(draft.Name, draft.Eligibility, draft.Requirements, requestcontext.Now(ctx)); err != nil {
		return nil, asValidation(err)
	}
	if err := s.store.Update(ctx, svc); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "service not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update service")
	}
	s.invalidate(ctx, serviceID)

	s.emit(ctx, actor, audit.ActionServiceUpdated, fmt.Sprintf("Admin updated service %q (ID: %s)", svc.Name, svc.ID))
	return svc, nil
}

// Delete removes a service that no request references.
func (s *Service) Delete(ctx context.Context, actor policy.Actor, serviceID id.ServiceID) error {
	if err := policy.Authorize(actor, policy.OpManageServices); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, serviceID); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return dErrors.New(dErrors.CodeNotFound, "service not found")
		case errors.Is(err, sentinel.ErrInvalidState):
			return dErrors.New(dErrors.CodeConflict, "service has certificate requests and cannot be deleted")
		default:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete service")
		}
	}
	s.invalidate(ctx, serviceID)

	s.emit(ctx, actor, audit.ActionServiceDeleted, fmt.Sprintf("Admin deleted service (ID: %s)", serviceID))
	return nil
}

func (s *Service) invalidate(ctx context.Context, serviceID id.ServiceID) {
	if s.reader == nil {
		return
	}
	if err := s.reader.Invalidate(ctx, serviceID); err != nil {
		s.logger.WarnContext(ctx, "catalog cache invalidation failed",
			"service_id", serviceID.String(),
			"error", err,
		)
	}
}

func (s *Service) emit(ctx context.Context, actor policy.Actor, action audit.Action, message string) {
	s.logger.InfoContext(ctx, string(action),
		"actor_id", actor.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Entry{
		ActorID:            actor.ID,
		ActorRole:          actor.Role.String(),
		Action:             string(action),
		Message:            message,
		Timestamp:          requestcontext.Now(ctx),
		RequestCorrelation: requestcontext.RequestID(ctx),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit entry", "action", string(action), "error", err)
	}
}

func asValidation(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeValidation, err.Error())
	}
	return err
}
