// Package service is the request lifecycle engine. It owns the role-gated
// transitions of a certificate request; atomicity of each transition is
// delegated to the store, and audit and notification side effects run only
// after the store write has committed.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	catalog "certdesk/internal/catalog/models"
	"certdesk/internal/certrequest/metrics"
	"certdesk/internal/certrequest/models"
	"certdesk/internal/notify"
	"certdesk/internal/policy"
	id "certdesk/pkg/domain"
	dErrors "certdesk/pkg/domain-errors"
	"certdesk/pkg/platform/audit"
	"certdesk/pkg/platform/sentinel"
	"certdesk/pkg/requestcontext"
)

type Store interface {
	CreateIfNoActive(ctx context.Context, r *models.Request) error
	FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	FindAssigned(ctx context.Context, requestID id.RequestID, staff id.UserID) (*models.Request, error)
	ListByStatus(ctx context.Context, statuses []models.Status) ([]*models.Request, error)
	ListByApplicant(ctx context.Context, applicant id.UserID, statuses []models.Status) ([]*models.Request, error)
	Lock(ctx context.Context, requestID id.RequestID, staff id.UserID, workable []models.Status, now time.Time) (*models.Request, error)
	ExecuteLocked(ctx context.Context, requestID id.RequestID, staff id.UserID, validate func(*models.Request) error, mutate func(*models.Request)) (*models.Request, error)
}

// Catalog is the read-only view of service descriptors.
type Catalog interface {
	Get(ctx context.Context, serviceID id.ServiceID) (*catalog.Service, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

type Service struct {
	store          Store
	catalog        Catalog
	notifier       notify.Notifier
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = publisher }
}

// WithNotifier sets the applicant notifier. It should not block; pass a
// notify.Dispatcher in production.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func New(store Store, cat Catalog, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("request store is required")
	}
	if cat == nil {
		return nil, errors.New("service catalog is required")
	}
	s := &Service{
		store:   store,
		catalog: cat,
		logger:  slog.Default(),
		tracer:  otel.Tracer("certdesk/certrequest"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit validates values against the service descriptor and creates the
// request unless the applicant already has an active one for the service.
// File values must already be stored references.
func (s *Service) Submit(ctx context.Context, actor policy.Actor, serviceID id.ServiceID, email string, values []models.RequirementValue) (_ *models.Request, err error) {
	start := time.Now()
	defer s.metrics.ObserveSubmit(start)
	ctx, span := s.tracer.Start(ctx, "certrequest.Submit", trace.WithAttributes(
		attribute.String("service.id", serviceID.String()),
	))
	defer func() { endSpan(span, err) }()

	if err := policy.Authorize(actor, policy.OpSubmit); err != nil {
		return nil, err
	}
	svc, err := s.catalog.Get(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if email == "" {
		email = actor.Email
	}

	req, err := models.NewRequest(id.NewRequestID(), actor.ID, email, svc, values, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateIfNoActive(ctx, req); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, activeApplicationConflict()
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create request")
	}

	s.metrics.IncSubmitted()
	s.emit(ctx, actor, &req.ID, audit.ActionSubmitted, fmt.Sprintf("Applied for service %q", svc.Name))
	return req, nil
}

// CheckEligible fails when Submit would be refused before any values are
// looked at: the actor may not apply, the service is unknown, or an active
// application for it already exists. It writes nothing; Submit still decides
// atomically.
func (s *Service) CheckEligible(ctx context.Context, actor policy.Actor, serviceID id.ServiceID) error {
	if err := policy.Authorize(actor, policy.OpSubmit); err != nil {
		return err
	}
	if _, err := s.catalog.Get(ctx, serviceID); err != nil {
		return err
	}
	active, err := s.store.ListByApplicant(ctx, actor.ID, models.ActiveStatuses)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load requests")
	}
	for _, r := range active {
		if r.ServiceID == serviceID {
			return activeApplicationConflict()
		}
	}
	return nil
}

func activeApplicationConflict() error {
	return dErrors.New(dErrors.CodeConflict, "you already have an active application for this service")
}

// ListAssignable returns the queue for the actor's role without touching
// lock state.
func (s *Service) ListAssignable(ctx context.Context, actor policy.Actor) ([]*models.Request, error) {
	if err := policy.Authorize(actor, policy.OpListAssignable); err != nil {
		return nil, err
	}
	statuses, ok := models.QueueFor(actor.Role)
	if !ok {
		return nil, dErrors.New(dErrors.CodeForbidden, "access denied")
	}
	list, err := s.store.ListByStatus(ctx, statuses)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list requests")
	}
	return list, nil
}

// Lock claims the request for the actor. Concurrent callers race on a single
// conditional store update; exactly one wins and the rest see AlreadyLocked.
func (s *Service) Lock(ctx context.Context, actor policy.Actor, requestID id.RequestID) (_ *models.Request, err error) {
	start := time.Now()
	defer s.metrics.ObserveLock(start)
	ctx, span := s.tracer.Start(ctx, "certrequest.Lock", trace.WithAttributes(
		attribute.String("request.id", requestID.String()),
		attribute.String("actor.role", actor.Role.String()),
	))
	defer func() { endSpan(span, err) }()

	if err := policy.Authorize(actor, policy.OpLock); err != nil {
		return nil, err
	}
	workable, ok := models.QueueFor(actor.Role)
	if !ok {
		return nil, dErrors.New(dErrors.CodeForbidden, "access denied")
	}

	req, err := s.store.Lock(ctx, requestID, actor.ID, workable, requestcontext.Now(ctx))
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			s.metrics.IncLockAttempt("not_found")
			return nil, dErrors.New(dErrors.CodeNotFound, "request not found")
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			s.metrics.IncLockAttempt("already_locked")
			return nil, dErrors.New(dErrors.CodeAlreadyLocked, "request is already locked by another staff member")
		case errors.Is(err, sentinel.ErrInvalidState):
			s.metrics.IncLockAttempt("unworkable")
			return nil, dErrors.New(dErrors.CodeConflict, "request is not in a status your role can work")
		default:
			s.metrics.IncLockAttempt("error")
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock request")
		}
	}

	s.metrics.IncLockAttempt("acquired")
	s.emit(ctx, actor, &req.ID, audit.ActionLocked, "Request locked for review")
	return req, nil
}

// Decide applies a decision to a request the actor holds the lock on. The
// lock is released in the same write. Audit and notification follow the
// commit and never undo it.
func (s *Service) Decide(ctx context.Context, actor policy.Actor, requestID id.RequestID, decision models.Decision, payload models.DecisionPayload) (_ *models.Request, err error) {
	start := time.Now()
	defer s.metrics.ObserveDecide(start)
	ctx, span := s.tracer.Start(ctx, "certrequest.Decide", trace.WithAttributes(
		attribute.String("request.id", requestID.String()),
		attribute.String("decision", string(decision)),
	))
	defer func() { endSpan(span, err) }()

	if err := policy.Authorize(actor, policy.OpDecide); err != nil {
		return nil, err
	}
	if _, err := models.ParseDecision(string(decision)); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	req, err := s.store.ExecuteLocked(ctx, requestID, actor.ID,
		func(r *models.Request) error {
			return r.CanDecide(actor.ID, decision, payload)
		},
		func(r *models.Request) {
			r.ApplyDecision(decision, payload, now)
		},
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "request not found or not locked by you")
		}
		var de *dErrors.Error
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record decision")
	}

	s.metrics.IncDecision(string(req.Status))
	s.emit(ctx, actor, &req.ID, decisionAction(decision), decision.AuditMessage(payload))
	s.notifyApplicant(ctx, req)
	return req, nil
}

// ListMine returns the actor's own submitted and in-process requests.
func (s *Service) ListMine(ctx context.Context, actor policy.Actor) ([]models.ApplicantView, error) {
	if err := policy.Authorize(actor, policy.OpListOwn); err != nil {
		return nil, err
	}
	list, err := s.store.ListByApplicant(ctx, actor.ID, models.ApplicantListStatuses)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list requests")
	}
	views := make([]models.ApplicantView, 0, len(list))
	for _, r := range list {
		views = append(views, r.ToApplicantView())
	}
	return views, nil
}

// GetMine returns one of the actor's own requests in any status. A request
// owned by someone else is reported as not found.
func (s *Service) GetMine(ctx context.Context, actor policy.Actor, requestID id.RequestID) (*models.ApplicantView, error) {
	if err := policy.Authorize(actor, policy.OpListOwn); err != nil {
		return nil, err
	}
	r, err := s.store.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load request")
	}
	if r.ApplicantID != actor.ID {
		return nil, dErrors.New(dErrors.CodeNotFound, "request not found")
	}
	v := r.ToApplicantView()
	return &v, nil
}

// GetAssigned returns a request currently assigned to the actor.
func (s *Service) GetAssigned(ctx context.Context, actor policy.Actor, requestID id.RequestID) (*models.Request, error) {
	if err := policy.Authorize(actor, policy.OpViewAssigned); err != nil {
		return nil, err
	}
	r, err := s.store.FindAssigned(ctx, requestID, actor.ID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "request not found or not assigned to you")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load request")
	}
	return r, nil
}

func (s *Service) notifyApplicant(ctx context.Context, r *models.Request) {
	if s.notifier == nil {
		return
	}
	var (
		kind notify.Kind
		data notify.Data
	)
	switch r.Status {
	case models.StatusApproved:
		kind = notify.KindApproved
		data.CertificateURL = r.CertificateURL
	case models.StatusRejected:
		kind = notify.KindRejected
		data.RejectionNote = r.RejectionNote
	default:
		return
	}
	if r.ApplicantEmail == "" {
		s.logger.WarnContext(ctx, "applicant has no email; notification skipped",
			"request_id", requestcontext.RequestID(ctx),
			"certificate_request_id", r.ID.String(),
		)
		return
	}
	if svc, err := s.catalog.Get(ctx, r.ServiceID); err == nil {
		data.ServiceName = svc.Name
	}
	if err := s.notifier.Notify(ctx, r.ApplicantEmail, kind, data); err != nil {
		s.metrics.IncNotifyDropped()
		s.logger.WarnContext(ctx, "applicant notification failed",
			"request_id", requestcontext.RequestID(ctx),
			"certificate_request_id", r.ID.String(),
			"kind", string(kind),
			"error", err,
		)
	}
}

func (s *Service) emit(ctx context.Context, actor policy.Actor, requestID *id.RequestID, action audit.Action, message string) {
	s.logger.InfoContext(ctx, string(action),
		"request_id", requestcontext.RequestID(ctx),
		"certificate_request_id", requestID.String(),
		"actor_id", actor.ID.String(),
		"actor_role", actor.Role.String(),
	)
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Entry{
		RequestID:          requestID,
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

func decisionAction(d models.Decision) audit.Action {
	switch d {
	case models.DecisionApproved:
		return audit.ActionApproved
	case models.DecisionRejected:
		return audit.ActionRejected
	case models.DecisionSendBack:
		return audit.ActionSentBack
	default:
		return audit.ActionInProcess
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}
