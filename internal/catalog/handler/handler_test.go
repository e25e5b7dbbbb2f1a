package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"certdesk/internal/catalog/handler/mocks"
	"certdesk/internal/catalog/models"
	"certdesk/internal/catalog/service"
	"certdesk/internal/catalog/store"
	id "certdesk/pkg/domain"
	"certdesk/pkg/platform/audit/publisher"
	auditmemory "certdesk/pkg/platform/audit/store/memory"
	"certdesk/pkg/testutil"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func newCatalogRouter(t *testing.T, svc Service, role string) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Use(testutil.AsActor(id.NewUserID(), role, role+"@example.com"))
	New(svc, logger).Register(r)
	return r
}

func newRealService(t *testing.T) (*service.Service, *auditmemory.InMemoryStore) {
	t.Helper()
	auditStore := auditmemory.NewInMemoryStore()
	svc, err := service.New(store.NewInMemory(), service.WithAuditPublisher(publisher.NewPublisher(auditStore)))
	require.NoError(t, err)
	return svc, auditStore
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

var aadharPayload = map[string]any{
	"name":        "Aadhar",
	"eligibility": "Citizens of India",
	"requirements": []map[string]any{
		{"label": "Full Name", "type": "text", "required": true},
		{"label": "Photo", "type": "file", "required": true},
		{"label": "Nickname"},
	},
}

func TestCatalogLifecycleViaHandlers(t *testing.T) {
	svc, auditStore := newRealService(t)
	admin := newCatalogRouter(t, svc, "admin")

	rec, env := do(t, admin, http.MethodPost, "/admin/services", aadharPayload)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)

	var created models.Service
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "Aadhar", created.Name)
	require.Len(t, created.Requirements, 3)
	assert.Equal(t, models.KindText, created.Requirements[2].Kind, "missing type defaults to text")

	user := newCatalogRouter(t, svc, "user")
	rec, env = do(t, user, http.MethodGet, "/services", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []models.Service
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	assert.Len(t, listed, 1)

	update := map[string]any{
		"name":         "Aadhar Card",
		"eligibility":  "Residents",
		"requirements": []map[string]any{{"label": "Photo", "type": "file", "required": true}},
	}
	rec, _ = do(t, admin, http.MethodPut, "/admin/services/"+created.ID.String(), update)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, admin, http.MethodDelete, "/admin/services/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = do(t, admin, http.MethodDelete, "/admin/services/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error)

	entries, err := auditStore.ListRecent(t.Context(), 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestCreateService_Validation(t *testing.T) {
	svc, _ := newRealService(t)
	admin := newCatalogRouter(t, svc, "admin")

	cases := []struct {
		name    string
		body    map[string]any
		message string
	}{
		{"missing name", map[string]any{"eligibility": "x", "requirements": []any{}}, "name is required"},
		{"missing requirements", map[string]any{"name": "x", "eligibility": "y"}, "requirements is required"},
		{"bad type", map[string]any{"name": "x", "eligibility": "y", "requirements": []map[string]any{{"label": "a", "type": "pdf"}}}, "requirements[0].type must be one of: text file"},
		{"duplicate label", map[string]any{"name": "x", "eligibility": "y", "requirements": []map[string]any{{"label": "a"}, {"label": "a"}}}, `requirement label "a" is declared twice`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, env := do(t, admin, http.MethodPost, "/admin/services", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.message, env.Message)
		})
	}
}

func TestAdminRoutesForbiddenForStaff(t *testing.T) {
	svc, _ := newRealService(t)
	clerk := newCatalogRouter(t, svc, "clerk")

	rec, env := do(t, clerk, http.MethodPost, "/admin/services", aadharPayload)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, env.Success)
}

func TestUpdateService_BadID(t *testing.T) {
	svc, _ := newRealService(t)
	admin := newCatalogRouter(t, svc, "admin")

	rec, _ := do(t, admin, http.MethodPut, "/admin/services/not-a-uuid", aadharPayload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListServices_InternalErrorHidden(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockService := mocks.NewMockService(ctrl)
	mockService.EXPECT().List(gomock.Any(), gomock.Any()).Return(nil, errors.New("pq: connection refused"))

	rec, env := do(t, newCatalogRouter(t, mockService, "user"), http.MethodGet, "/services", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", env.Message)
}
