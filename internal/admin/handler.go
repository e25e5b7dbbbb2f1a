package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"certdesk/internal/policy"
	dErrors "certdesk/pkg/domain-errors"
	"certdesk/pkg/platform/audit"
	"certdesk/pkg/platform/httputil"
	"certdesk/pkg/requestcontext"
)

type AuditService interface {
	RecentAuditLogs(ctx context.Context, actor policy.Actor, limit int) ([]audit.Entry, error)
}

type Handler struct {
	service AuditService
	logger  *slog.Logger
}

func NewHandler(service AuditService, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/audit-logs", h.HandleListAuditLogs)
}

// HandleListAuditLogs serves GET /admin/audit-logs?limit=N.
func (h *Handler) HandleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	entries, err := h.service.RecentAuditLogs(ctx, policy.ActorFrom(ctx), limit)
	if err != nil {
		h.logger.WarnContext(ctx, "list audit logs failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "", toAuditLogList(entries))
}
