// Package admin exposes read-only administrative views.
package admin

import (
	"context"
	"errors"

	"certdesk/internal/policy"
	dErrors "certdesk/pkg/domain-errors"
	"certdesk/pkg/platform/audit"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// AuditLister reads the most recent audit entries, newest first.
type AuditLister interface {
	List(ctx context.Context, limit int) ([]audit.Entry, error)
}

type Service struct {
	audit        AuditLister
	defaultLimit int
}

func NewService(lister AuditLister, defaultLimit int) (*Service, error) {
	if lister == nil {
		return nil, errors.New("audit lister is required")
	}
	if defaultLimit <= 0 || defaultLimit > MaxListLimit {
		defaultLimit = DefaultListLimit
	}
	return &Service{audit: lister, defaultLimit: defaultLimit}, nil
}

// RecentAuditLogs returns up to limit entries. A non-positive limit uses the
// configured default; larger requests are capped at MaxListLimit.
func (s *Service) RecentAuditLogs(ctx context.Context, actor policy.Actor, limit int) ([]audit.Entry, error) {
	if err := policy.Authorize(actor, policy.OpViewAudit); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = s.defaultLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	entries, err := s.audit.List(ctx, limit)
	if err != nil {
		if errors.Is(err, audit.ErrNoReader) {
			return nil, dErrors.New(dErrors.CodeNotFound, "audit log listing is not available")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit logs")
	}
	return entries, nil
}
