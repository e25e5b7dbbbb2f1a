// Package domain holds the typed identifiers shared across certdesk modules.
//
// Each identifier is a distinct named UUID type so a request ID can never be
// passed where a user or service ID is expected.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "certdesk/pkg/domain-errors"
)

type (
	// UserID identifies any authenticated actor: applicant, staff or admin.
	UserID uuid.UUID
	// RequestID identifies a certificate request.
	RequestID uuid.UUID
	// ServiceID identifies a catalog service.
	ServiceID uuid.UUID
	// AuditEntryID identifies a single audit log entry.
	AuditEntryID uuid.UUID
)

func NewUserID() UserID             { return UserID(uuid.New()) }
func NewRequestID() RequestID       { return RequestID(uuid.New()) }
func NewServiceID() ServiceID       { return ServiceID(uuid.New()) }
func NewAuditEntryID() AuditEntryID { return AuditEntryID(uuid.New()) }

func (u UserID) String() string       { return uuid.UUID(u).String() }
func (r RequestID) String() string    { return uuid.UUID(r).String() }
func (s ServiceID) String() string    { return uuid.UUID(s).String() }
func (a AuditEntryID) String() string { return uuid.UUID(a).String() }

func (u UserID) IsNil() bool       { return uuid.UUID(u) == uuid.Nil }
func (r RequestID) IsNil() bool    { return uuid.UUID(r) == uuid.Nil }
func (s ServiceID) IsNil() bool    { return uuid.UUID(s) == uuid.Nil }
func (a AuditEntryID) IsNil() bool { return uuid.UUID(a) == uuid.Nil }

func (u UserID) MarshalText() ([]byte, error)    { return uuid.UUID(u).MarshalText() }
func (r RequestID) MarshalText() ([]byte, error) { return uuid.UUID(r).MarshalText() }
func (s ServiceID) MarshalText() ([]byte, error) { return uuid.UUID(s).MarshalText() }

func (a AuditEntryID) MarshalText() ([]byte, error) { return uuid.UUID(a).MarshalText() }

func (u *UserID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(u).UnmarshalText(b) }
func (r *RequestID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(r).UnmarshalText(b) }
func (s *ServiceID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(s).UnmarshalText(b) }
func (a *AuditEntryID) UnmarshalText(b []byte) error { return (*uuid.UUID)(a).UnmarshalText(b) }

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user ID")
	return UserID(u), err
}

func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID(s, "request ID")
	return RequestID(u), err
}

func ParseServiceID(s string) (ServiceID, error) {
	u, err := parseUUID(s, "service ID")
	return ServiceID(u), err
}

// maxIDLength bounds input before it reaches uuid.Parse. The longest accepted
// form is the 45 character urn:uuid: prefix variant.
const maxIDLength = 64

// parseUUID rejects empty, malformed and nil UUIDs at trust boundaries.
func parseUUID(s, kind string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxIDLength {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return u, nil
}
