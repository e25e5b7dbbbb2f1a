package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"certdesk/internal/catalog/models"
	"certdesk/internal/catalog/service"
	"certdesk/internal/policy"
	id "certdesk/pkg/domain"
	"certdesk/pkg/platform/httputil"
	"certdesk/pkg/requestcontext"
)

// Service is the catalog surface the handler needs.
type Service interface {
	List(ctx context.Context, actor policy.Actor) ([]*models.Service, error)
	Create(ctx context.Context, actor policy.Actor, draft service.Draft) (*models.Service, error)
	Update(ctx context.Context, actor policy.Actor, serviceID id.ServiceID, draft service.Draft) (*models.Service, error)
	Delete(ctx context.Context, actor policy.Actor, serviceID id.ServiceID) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts catalog routes. Authentication is applied by the caller.
func (h *Handler) Register(r chi.Router) {
	r.Get("/services", h.HandleList)
	r.Route("/admin/services", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Put("/{id}", h.HandleUpdate)
		r.Delete("/{id}", h.HandleDelete)
	})
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	services, err := h.service.List(ctx, policy.ActorFrom(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "", services)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ServiceRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	svc, err := h.service.Create(ctx, policy.ActorFrom(ctx), req.Draft())
	if err != nil {
		h.logger.WarnContext(ctx, "create service failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusCreated, "Service created successfully", svc)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	serviceID, err := id.ParseServiceID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ServiceRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	svc, err := h.service.Update(ctx, policy.ActorFrom(ctx), serviceID, req.Draft())
	if err != nil {
		h.logger.WarnContext(ctx, "update service failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "Service updated successfully", svc)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	serviceID, err := id.ParseServiceID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.Delete(ctx, policy.ActorFrom(ctx), serviceID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "Service deleted successfully", nil)
}
