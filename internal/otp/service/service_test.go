package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"certdesk/internal/notify"
	"certdesk/internal/otp/store"
	dErrors "certdesk/pkg/domain-errors"
)

type capturingNotifier struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (n *capturingNotifier) Notify(_ context.Context, to string, kind notify.Kind, data notify.Data) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	if kind == notify.KindOTP {
		n.codes[to] = data.Code
	}
	return nil
}

type OTPServiceSuite struct {
	suite.Suite
	ctx      context.Context
	store    *store.InMemory
	notifier *capturingNotifier
	service  *Service
}

func TestOTPServiceSuite(t *testing.T) {
	suite.Run(t, new(OTPServiceSuite))
}

func (s *OTPServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemory()
	s.notifier = &capturingNotifier{codes: map[string]string{}}
	var err error
	s.service, err = New(s.store, s.notifier,
		WithHashCost(bcrypt.MinCost),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
}

func (s *OTPServiceSuite) TestIssueAndVerify() {
	s.Require().NoError(s.service.Issue(s.ctx, " Asha@Example.com"))
	code := s.notifier.codes["asha@example.com"]
	s.Len(code, codeDigits)

	s.Run("second issue while outstanding conflicts", func() {
		err := s.service.Issue(s.ctx, "asha@example.com")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("wrong code is rejected and keeps the code", func() {
		err := s.service.Verify(s.ctx, "asha@example.com", "not-it")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("right code verifies once", func() {
		s.Require().NoError(s.service.Verify(s.ctx, "ASHA@example.com", code))
		err := s.service.Verify(s.ctx, "asha@example.com", code)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *OTPServiceSuite) TestCodeIsHashedAtRest() {
	s.service.generate = func() (string, error) { return "123456", nil }
	s.Require().NoError(s.service.Issue(s.ctx, "ravi@example.com"))

	hash, err := s.store.Get(s.ctx, "ravi@example.com")
	s.Require().NoError(err)
	s.NotEqual("123456", hash)
	s.NoError(bcrypt.CompareHashAndPassword([]byte(hash), []byte("123456")))
}

func (s *OTPServiceSuite) TestSendFailureFreesSlot() {
	s.notifier.err = errors.New("notification queue full")
	err := s.service.Issue(s.ctx, "ravi@example.com")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	s.notifier.err = nil
	s.NoError(s.service.Issue(s.ctx, "ravi@example.com"))
}

func TestRandomCode(t *testing.T) {
	for range 50 {
		code, err := randomCode()
		if err != nil {
			t.Fatal(err)
		}
		if len(code) != codeDigits {
			t.Fatalf("code %q has %d digits", code, len(code))
		}
	}
}
