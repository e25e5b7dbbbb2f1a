package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	catalog "certdesk/internal/catalog/models"
	"certdesk/internal/certrequest/models"
	"certdesk/internal/objectstore"
	"certdesk/internal/policy"
	id "certdesk/pkg/domain"
	dErrors "certdesk/pkg/domain-errors"
	"certdesk/pkg/platform/httputil"
	"certdesk/pkg/requestcontext"
)

const (
	// maxFormBytes bounds a whole multipart body: a handful of 2 MiB images
	// plus text fields.
	maxFormBytes     = 16 << 20
	formMemoryBytes  = 8 << 20
	certificateField = "certificate"

	applicantFolder   = "requirements"
	certificateFolder = "certificates"
)

// Service is the lifecycle engine surface the handler needs.
type Service interface {
	CheckEligible(ctx context.Context, actor policy.Actor, serviceID id.ServiceID) error
	Submit(ctx context.Context, actor policy.Actor, serviceID id.ServiceID, email string, values []models.RequirementValue) (*models.Request, error)
	ListMine(ctx context.Context, actor policy.Actor) ([]models.ApplicantView, error)
	GetMine(ctx context.Context, actor policy.Actor, requestID id.RequestID) (*models.ApplicantView, error)
	ListAssignable(ctx context.Context, actor policy.Actor) ([]*models.Request, error)
	Lock(ctx context.Context, actor policy.Actor, requestID id.RequestID) (*models.Request, error)
	GetAssigned(ctx context.Context, actor policy.Actor, requestID id.RequestID) (*models.Request, error)
	Decide(ctx context.Context, actor policy.Actor, requestID id.RequestID, decision models.Decision, payload models.DecisionPayload) (*models.Request, error)
}

// Handler serves applicant and staff routes. Uploaded files are checked
// against the policy and stored before the engine is called, so the engine
// only ever sees references.
type Handler struct {
	service Service
	uploads objectstore.Store
	policy  objectstore.Policy
	logger  *slog.Logger
}

func New(service Service, uploads objectstore.Store, policy objectstore.Policy, logger *slog.Logger) *Handler {
	return &Handler{service: service, uploads: uploads, policy: policy, logger: logger}
}

// Register mounts request routes. Authentication is applied by the caller.
func (h *Handler) Register(r chi.Router) {
	r.Post("/apply/{serviceID}", h.HandleSubmit)
	r.Get("/applied", h.HandleListMine)
	r.Get("/applied/{id}", h.HandleGetMine)

	r.Route("/staff/requests", func(r chi.Router) {
		r.Get("/", h.HandleListAssignable)
		r.Get("/{id}", h.HandleGetAssigned)
		r.Patch("/{id}/lock", h.HandleLock)
		r.Post("/{id}/decision", h.HandleDecide)
	})
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor := policy.ActorFrom(ctx)

	serviceID, err := id.ParseServiceID(chi.URLParam(r, "serviceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.CheckEligible(ctx, actor, serviceID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := parseForm(w, r); err != nil {
		httputil.WriteError(w, err)
		return
	}

	values, err := h.collectValues(ctx, r)
	if err != nil {
		h.logger.WarnContext(ctx, "application upload failed",
			"request_id", requestID,
			"service_id", serviceID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	req, err := h.service.Submit(ctx, actor, serviceID, actor.Email, values)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusCreated, "Certificate request submitted successfully", req.ToApplicantView())
}

func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	views, err := h.service.ListMine(ctx, policy.ActorFrom(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "", views)
}

func (h *Handler) HandleGetMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.service.GetMine(ctx, policy.ActorFrom(ctx), requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "", view)
}

func (h *Handler) HandleListAssignable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.service.ListAssignable(ctx, policy.ActorFrom(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "", list)
}

func (h *Handler) HandleGetAssigned(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.service.GetAssigned(ctx, policy.ActorFrom(ctx), requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "", req)
}

func (h *Handler) HandleLock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.service.Lock(ctx, policy.ActorFrom(ctx), requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, "Request locked successfully", req)
}

func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := requestcontext.RequestID(ctx)

	requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := parseForm(w, r); err != nil {
		httputil.WriteError(w, err)
		return
	}

	body := DecisionRequest{
		Status:         r.FormValue("status"),
		RejectionNote:  r.FormValue("rejection_note"),
		CertificateURL: r.FormValue("certificate_url"),
	}
	if err := body.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	var certificateURL string
	if body.Decision() == models.DecisionApproved {
		if fh := firstFile(r, certificateField); fh != nil {
			certificateURL, err = h.upload(ctx, certificateField, fh, certificateFolder)
			if err != nil {
				h.logger.WarnContext(ctx, "certificate upload failed",
					"request_id", reqID,
					"certificate_request_id", requestID.String(),
					"error", err,
				)
				httputil.WriteError(w, err)
				return
			}
		}
	}

	req, err := h.service.Decide(ctx, policy.ActorFrom(ctx), requestID, body.Decision(), body.Payload(certificateURL))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, fmt.Sprintf("Request marked %s", req.Status), req)
}

// collectValues turns form fields into text values and uploaded files into
// file references. Every file passes the policy before any is uploaded.
func (h *Handler) collectValues(ctx context.Context, r *http.Request) ([]models.RequirementValue, error) {
	var values []models.RequirementValue
	for _, label := range sortedKeys(r.PostForm) {
		values = append(values, models.RequirementValue{
			Label: label,
			Kind:  catalog.KindText,
			Value: r.PostForm.Get(label),
		})
	}
	if r.MultipartForm == nil {
		return values, nil
	}

	files := r.MultipartForm.File
	objects := make(map[string]objectstore.Object, len(files))
	for _, label := range sortedKeys(files) {
		if len(files[label]) > 1 {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s: only one file may be uploaded", label))
		}
		obj, err := h.policy.Open(label, files[label][0], applicantFolder)
		if err != nil {
			return nil, err
		}
		objects[label] = obj
	}
	for _, label := range sortedKeys(objects) {
		ref, err := h.put(ctx, label, objects[label])
		if err != nil {
			return nil, err
		}
		values = append(values, models.RequirementValue{
			Label: label,
			Kind:  catalog.KindFile,
			Value: ref,
		})
	}
	return values, nil
}

func (h *Handler) upload(ctx context.Context, label string, fh *multipart.FileHeader, folder string) (string, error) {
	obj, err := h.policy.Open(label, fh, folder)
	if err != nil {
		return "", err
	}
	return h.put(ctx, label, obj)
}

func (h *Handler) put(ctx context.Context, label string, obj objectstore.Object) (string, error) {
	ref, err := h.uploads.Put(ctx, obj)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeStorage, fmt.Sprintf("failed to store %s", label))
	}
	return ref.URL, nil
}

// parseForm accepts multipart and urlencoded bodies up to maxFormBytes.
func parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	err := r.ParseMultipartForm(formMemoryBytes)
	if err == nil || errors.Is(err, http.ErrNotMultipart) {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("request body exceeds %d bytes", maxFormBytes))
	}
	return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid form body")
}

func firstFile(r *http.Request, field string) *multipart.FileHeader {
	if r.MultipartForm == nil || len(r.MultipartForm.File[field]) == 0 {
		return nil
	}
	return r.MultipartForm.File[field][0]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
