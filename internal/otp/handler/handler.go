package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"certdesk/pkg/platform/httputil"
	"certdesk/pkg/requestcontext"
)

type Service interface {
	Issue(ctx context.Context, email string) error
	Verify(ctx context.Context, email, code string) error
}

type IssueRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type VerifyRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Code  string `json:"otp" validate:"required,len=6,numeric"`
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the public OTP routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/otp", h.HandleIssue)
	r.Post("/otp/verify", h.HandleVerify)
}

func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := h.service.Issue(ctx, req.Email); err != nil {
		h.logger.WarnContext(ctx, "otp issue failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "OTP sent successfully", nil)
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := h.service.Verify(ctx, req.Email, req.Code); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "OTP verified", nil)
}
