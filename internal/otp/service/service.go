// Package service issues and verifies email one-time codes.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"certdesk/internal/notify"
	dErrors "certdesk/pkg/domain-errors"
	"certdesk/pkg/platform/sentinel"
	"certdesk/pkg/requestcontext"
)

const (
	DefaultTTL = 2 * time.Minute
	codeDigits = 6
)

type Store interface {
	PutIfAbsent(ctx context.Context, email, hash string, ttl time.Duration) error
	Get(ctx context.Context, email string) (string, error)
	Delete(ctx context.Context, email string) error
}

type Service struct {
	store    Store
	notifier notify.Notifier
	ttl      time.Duration
	cost     int
	logger   *slog.Logger
	generate func() (string, error)
}

type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithHashCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithHashCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func New(store Store, notifier notify.Notifier, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("otp store is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	s := &Service{
		store:    store,
		notifier: notifier,
		ttl:      DefaultTTL,
		cost:     bcrypt.DefaultCost,
		logger:   slog.Default(),
		generate: randomCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue creates a code for email and mails it. Only one code may be
// outstanding per address; a second request before expiry is a conflict.
func (s *Service) Issue(ctx context.Context, email string) error {
	email = normalize(email)
	code, err := s.generate()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate code")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash code")
	}

	if err := s.store.PutIfAbsent(ctx, email, string(hash), s.ttl); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return dErrors.New(dErrors.CodeConflict,
				fmt.Sprintf("a code was already sent, please try again after %s", s.ttl))
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store code")
	}

	err = s.notifier.Notify(ctx, email, notify.KindOTP, notify.Data{Code: code, ValidFor: s.ttl.String()})
	if err != nil {
		if delErr := s.store.Delete(ctx, email); delErr != nil {
			s.logger.WarnContext(ctx, "failed to discard unsent code", "error", delErr)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to send verification code")
	}

	s.logger.InfoContext(ctx, "otp issued", "request_id", requestcontext.RequestID(ctx))
	return nil
}

// Verify checks code against the outstanding hash and consumes it on match.
func (s *Service) Verify(ctx context.Context, email, code string) error {
	email = normalize(email)
	hash, err := s.store.Get(ctx, email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeValidation, "code expired, please request a new one")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load code")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(code))); err != nil {
		return dErrors.New(dErrors.CodeValidation, "code invalid, please retry")
	}
	if err := s.store.Delete(ctx, email); err != nil {
		s.logger.WarnContext(ctx, "failed to consume code", "error", err)
	}
	return nil
}

func randomCode() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
