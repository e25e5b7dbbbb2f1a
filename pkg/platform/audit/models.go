package audit

import (
	"context"
	"errors"
	"time"

	id "certdesk/pkg/domain"
)

// DefaultRetention is how long an entry is kept before the retention sweep
// removes it.
const DefaultRetention = 10 * 24 * time.Hour

// Entry is an immutable record of a state-changing action. The engine only
// ever appends entries; nothing in the request path reads them back.
type Entry struct {
	ID        id.AuditEntryID `json:"id"`
	RequestID *id.RequestID   `json:"request_id,omitempty"`
	ActorID   id.UserID       `json:"actor_id"`
	ActorRole string          `json:"actor_role"`
	Action    string          `json:"action"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	// RequestCorrelation is the HTTP request ID that produced the entry.
	RequestCorrelation string `json:"correlation_id,omitempty"`
}

type Action string

const (
	// Request lifecycle
	ActionSubmitted Action = "submitted"
	ActionLocked    Action = "locked"
	ActionApproved  Action = "approved"
	ActionRejected  Action = "rejected"
	ActionInProcess Action = "in_process"
	ActionSentBack  Action = "sent_back"

	// Catalog administration
	ActionServiceCreated Action = "created_service"
	ActionServiceUpdated Action = "updated_service"
	ActionServiceDeleted Action = "deleted_service"
)

// Store appends entries to a sink.
type Store interface {
	Append(ctx context.Context, entry Entry) error
}

// Reader lists stored entries for the admin view.
type Reader interface {
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
}

// Fanout appends to every sink and joins their errors. A failing sink does
// not stop the others.
type Fanout []Store

func (f Fanout) Append(ctx context.Context, entry Entry) error {
	var errs []error
	for _, s := range f {
		if err := s.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ErrNoReader is returned when no configured sink can be read back.
var ErrNoReader = errors.New("no readable audit sink configured")

// ListRecent reads from the first sink that supports it.
func (f Fanout) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	for _, s := range f {
		if r, ok := s.(Reader); ok {
			return r.ListRecent(ctx, limit)
		}
	}
	return nil, ErrNoReader
}
