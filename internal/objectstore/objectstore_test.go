package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	dErrors "certdesk/pkg/domain-errors"
)

var (
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 32)...)
	jpegBytes = append([]byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, bytes.Repeat([]byte{0}, 32)...)
)

type PolicySuite struct {
	suite.Suite
	policy Policy
}

func TestPolicySuite(t *testing.T) {
	suite.Run(t, new(PolicySuite))
}

func (s *PolicySuite) SetupTest() {
	s.policy = ImagePolicy(0)
}

func (s *PolicySuite) TestCheck() {
	s.Run("png accepted", func() {
		s.NoError(s.policy.Check("Photo", "me.PNG", int64(len(pngBytes)), pngBytes))
	})
	s.Run("jpeg accepted", func() {
		s.NoError(s.policy.Check("Photo", "me.jpeg", int64(len(jpegBytes)), jpegBytes))
	})
	s.Run("extension rejected", func() {
		err := s.policy.Check("Photo", "me.pdf", 10, pngBytes)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "Photo")
	})
	s.Run("too large", func() {
		err := s.policy.Check("Photo", "me.png", DefaultMaxBytes+1, pngBytes)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("empty", func() {
		err := s.policy.Check("Photo", "me.png", 0, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("content does not match image", func() {
		text := []byte("just some text pretending to be an image")
		err := s.policy.Check("Photo", "me.png", int64(len(text)), text)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *PolicySuite) TestOpen() {
	fh := multipartFile(s.T(), "Photo", "me.png", pngBytes)

	obj, err := s.policy.Open("Photo", fh, "uploads")
	s.Require().NoError(err)
	s.Equal("image/png", obj.ContentType)
	s.Equal(int64(len(pngBytes)), obj.Size)
	s.Equal("uploads", obj.Folder)
}

func (s *PolicySuite) TestOpenRejectsOversized() {
	small := Policy{Extensions: []string{".png"}, MIMETypes: []string{"image/png"}, MaxBytes: 8}
	fh := multipartFile(s.T(), "Photo", "me.png", pngBytes)

	_, err := small.Open("Photo", fh, "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func multipartFile(t *testing.T, field, name string, content []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File[field][0]
}

func TestCloudinary_SignedUpload(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "key", r.FormValue("api_key"))
		assert.Equal(t, "1700000000", r.FormValue("timestamp"))
		assert.Equal(t, "certs", r.FormValue("folder"))
		assert.Equal(t, sign(map[string]string{"folder": "certs", "timestamp": "1700000000"}, "secret"), r.FormValue("signature"))

		_, fh, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "cert.png", fh.Filename)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"public_id":  "certs/abc",
			"secure_url": "https://res.cloudinary.com/demo/image/upload/certs/abc.png",
		})
	}))
	defer server.Close()

	c := NewCloudinary(CloudinaryConfig{CloudName: "demo", APIKey: "key", APISecret: "secret", BaseURL: server.URL})
	c.now = func() time.Time { return fixed }

	ref, err := c.Put(context.Background(), Object{Name: "cert.png", Folder: "certs", Body: bytes.NewReader(pngBytes)})
	require.NoError(t, err)
	assert.Equal(t, "https://res.cloudinary.com/demo/image/upload/certs/abc.png", ref.URL)
	assert.Equal(t, "certs/abc", ref.Key)
}

func TestCloudinary_ErrorWrapsErrStorage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid Signature"}}`))
	}))
	defer server.Close()

	c := NewCloudinary(CloudinaryConfig{CloudName: "demo", APIKey: "key", APISecret: "bad", BaseURL: server.URL})
	_, err := c.Put(context.Background(), Object{Name: "cert.png", Body: bytes.NewReader(pngBytes)})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.Contains(t, err.Error(), "Invalid Signature")
}

func TestSign_IsOrderIndependent(t *testing.T) {
	a := sign(map[string]string{"timestamp": "1", "folder": "x"}, "s")
	b := sign(map[string]string{"folder": "x", "timestamp": "1"}, "s")
	assert.Equal(t, a, b)
	assert.Len(t, a, 40)
}

func TestMemory(t *testing.T) {
	m := NewMemory("https://objects.test/")

	ref, err := m.Put(context.Background(), Object{Name: "a.PNG", Folder: "uploads", Body: bytes.NewReader(pngBytes)})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref.URL, "https://objects.test/uploads/"))
	assert.True(t, strings.HasSuffix(ref.URL, ".png"))

	data, ok := m.Get(ref.Key)
	require.True(t, ok)
	assert.Equal(t, pngBytes, data)

	m.FailWith(errors.New("disk full"))
	_, err = m.Put(context.Background(), Object{Name: "b.png", Body: bytes.NewReader(pngBytes)})
	assert.ErrorIs(t, err, ErrStorage)
}

func TestMemory_ServeHTTP(t *testing.T) {
	m := NewMemory("https://objects.test")
	ref, err := m.Put(context.Background(), Object{Name: "c.png", Folder: "certificates", Body: bytes.NewReader(pngBytes)})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+ref.Key, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, pngBytes, rec.Body.Bytes())

	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/certificates/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
