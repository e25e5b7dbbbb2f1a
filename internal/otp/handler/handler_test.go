package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	dErrors "certdesk/pkg/domain-errors"
	"certdesk/pkg/platform/httputil"
	"certdesk/pkg/testutil"
)

type stubService struct {
	issued   []string
	verified map[string]string
}

func (s *stubService) Issue(_ context.Context, email string) error {
	for _, e := range s.issued {
		if e == email {
			return dErrors.New(dErrors.CodeConflict, "a code was already sent")
		}
	}
	s.issued = append(s.issued, email)
	return nil
}

func (s *stubService) Verify(_ context.Context, email, code string) error {
	if s.verified[email] != code {
		return dErrors.New(dErrors.CodeValidation, "code invalid, please retry")
	}
	return nil
}

func serve(t *testing.T, svc Service, path, body string) (int, httputil.Envelope) {
	t.Helper()
	r := chi.NewRouter()
	New(svc, testutil.DiscardLogger()).Register(r)

	rr := testutil.DoRequest(r, testutil.NewJSONRequest(t, http.MethodPost, path, body))
	return rr.Code, testutil.DecodeEnvelope(t, rr, nil)
}

func TestIssue(t *testing.T) {
	svc := &stubService{}

	code, env := serve(t, svc, "/otp", `{"email":"asha@example.com"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OTP sent successfully", env.Message)

	code, _ = serve(t, svc, "/otp", `{"email":"asha@example.com"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, env = serve(t, svc, "/otp", `{"email":"not-an-address"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "email must be a valid email address", env.Message)
}

func TestVerify(t *testing.T) {
	svc := &stubService{verified: map[string]string{"asha@example.com": "042137"}}

	code, _ := serve(t, svc, "/otp/verify", `{"email":"asha@example.com","otp":"042137"}`)
	assert.Equal(t, http.StatusOK, code)

	code, env := serve(t, svc, "/otp/verify", `{"email":"asha@example.com","otp":"12"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "otp must have length 6", env.Message)

	code, _ = serve(t, svc, "/otp/verify", `{"email":"asha@example.com","otp":"999999"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}
