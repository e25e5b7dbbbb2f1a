package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	catalog "certdesk/internal/catalog/models"
	"certdesk/internal/policy"
	id "certdesk/pkg/domain"
	dErrors "certdesk/pkg/domain-errors"
)

// RequirementValue is one applicant-supplied field. File values hold a durable
// object storage reference, never a local path.
type RequirementValue struct {
	Label string                  `json:"label"`
	Kind  catalog.RequirementKind `json:"type"`
	Value string                  `json:"value"`
}

// Request is a single applicant's application for one service.
//
// Invariants:
//   - Requirements match the service's declared labels and kinds at submission
//   - IsLocked == true iff LockedBy != nil; unlocking clears both together
//   - CertificateURL is set only when Status == approved
//   - RejectionNote is set only when Status == rejected
//   - Status only moves along the transitions in CanDecide; approved and
//     rejected have no exits
//
// At most one active request per (applicant, service) is enforced by the
// store, not here.
type Request struct {
	ID             id.RequestID       `json:"id"`
	ApplicantID    id.UserID          `json:"applicant_id"`
	ApplicantEmail string             `json:"applicant_email"`
	ServiceID      id.ServiceID       `json:"service_id"`
	Requirements   []RequirementValue `json:"requirements"`
	Status         Status             `json:"status"`
	IsLocked       bool               `json:"is_locked"`
	LockedBy       *id.UserID         `json:"locked_by,omitempty"`
	AssignedTo     *id.UserID         `json:"assigned_to,omitempty"`
	CertificateURL string             `json:"certificate_url,omitempty"`
	RejectionNote  string             `json:"rejection_note,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// NewRequest validates submitted values against the service descriptor and
// returns a submitted, unlocked, unassigned request. Values are stored in the
// service's declaration order.
func NewRequest(requestID id.RequestID, applicant id.UserID, email string, svc *catalog.Service, values []RequirementValue, now time.Time) (*Request, error) {
	if svc == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "service not found")
	}
	ordered, err := matchRequirements(svc, values)
	if err != nil {
		return nil, err
	}
	return &Request{
		ID:             requestID,
		ApplicantID:    applicant,
		ApplicantEmail: strings.TrimSpace(email),
		ServiceID:      svc.ID,
		Requirements:   ordered,
		Status:         StatusSubmitted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func matchRequirements(svc *catalog.Service, values []RequirementValue) ([]RequirementValue, error) {
	byLabel := make(map[string]RequirementValue, len(values))
	for _, v := range values {
		label := strings.TrimSpace(v.Label)
		if label == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "requirement label is required")
		}
		if _, dup := byLabel[label]; dup {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s was supplied more than once", label))
		}
		if _, declared := svc.Descriptor(label); !declared {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s is not a requirement of this service", label))
		}
		v.Label = label
		v.Value = strings.TrimSpace(v.Value)
		byLabel[label] = v
	}

	ordered := make([]RequirementValue, 0, len(byLabel))
	for _, d := range svc.Requirements {
		v, ok := byLabel[d.Label]
		if !ok || v.Value == "" {
			if d.Required {
				return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s is required", d.Label))
			}
			continue
		}
		if v.Kind == "" {
			v.Kind = catalog.KindText
		}
		if v.Kind != d.Kind {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s must be of type %s", d.Label, d.Kind))
		}
		if d.Kind == catalog.KindFile && !isReference(v.Value) {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s must be an uploaded file reference", d.Label))
		}
		ordered = append(ordered, v)
	}
	return ordered, nil
}

// isReference accepts absolute http(s) URLs only.
func isReference(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

// CanLock checks whether a staff member of the given role may claim the request.
// Use with ApplyLock in store callbacks; the store performs the actual
// compare-and-set.
func (r *Request) CanLock(role policy.Role) error {
	if r.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("request has already been %s", r.Status))
	}
	if !QueueAllows(role, r.Status) {
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("request is not in the %s queue", role))
	}
	if r.IsLocked {
		return dErrors.New(dErrors.CodeAlreadyLocked, "request is already locked")
	}
	return nil
}

// ApplyLock claims the request for staff and assigns it to them.
func (r *Request) ApplyLock(staff id.UserID, now time.Time) {
	holder := staff
	r.IsLocked = true
	r.LockedBy = &holder
	r.AssignedTo = &holder
	r.UpdatedAt = now
}

// DecisionPayload carries the decision-specific inputs.
type DecisionPayload struct {
	CertificateURL string
	Note           string
}

// CanDecide validates that staff holds the lock, that the transition exists
// from the current status, and that the payload fits the decision.
func (r *Request) CanDecide(staff id.UserID, d Decision, p DecisionPayload) error {
	if !r.IsLocked || r.LockedBy == nil || *r.LockedBy != staff {
		return dErrors.New(dErrors.CodeConflict, "request is not locked by you")
	}
	if !d.AllowedFrom(r.Status) {
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("cannot move request from %s to %s", r.Status, d.Target()))
	}
	switch d {
	case DecisionApproved:
		if strings.TrimSpace(p.CertificateURL) == "" {
			return dErrors.New(dErrors.CodeValidation, "certificate is required to approve")
		}
		if !isReference(p.CertificateURL) {
			return dErrors.New(dErrors.CodeValidation, "certificate must be an uploaded file reference")
		}
	case DecisionRejected:
		if strings.TrimSpace(p.Note) == "" {
			return dErrors.New(dErrors.CodeValidation, "rejection_note is required to reject")
		}
	}
	return nil
}

// ApplyDecision performs the transition and always releases the lock.
// Call CanDecide first.
func (r *Request) ApplyDecision(d Decision, p DecisionPayload, now time.Time) {
	r.Status = d.Target()
	switch d {
	case DecisionApproved:
		r.CertificateURL = strings.TrimSpace(p.CertificateURL)
		r.RejectionNote = ""
	case DecisionRejected:
		r.RejectionNote = strings.TrimSpace(p.Note)
		r.CertificateURL = ""
	case DecisionInProcess, DecisionSendBack:
		r.AssignedTo = nil
	}
	r.IsLocked = false
	r.LockedBy = nil
	r.UpdatedAt = now
}

// ApplicantView is the applicant-facing projection of a request.
type ApplicantView struct {
	ID             id.RequestID       `json:"id"`
	ServiceID      id.ServiceID       `json:"service_id"`
	Status         Status             `json:"status"`
	Requirements   []RequirementValue `json:"requirements"`
	CertificateURL string             `json:"certificate_url,omitempty"`
	RejectionNote  string             `json:"rejection_note,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// ToApplicantView hides staff bookkeeping and exposes the certificate or the
// rejection note only in the matching terminal status.
func (r *Request) ToApplicantView() ApplicantView {
	v := ApplicantView{
		ID:           r.ID,
		ServiceID:    r.ServiceID,
		Status:       r.Status,
		Requirements: r.Requirements,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	switch r.Status {
	case StatusApproved:
		v.CertificateURL = r.CertificateURL
	case StatusRejected:
		v.RejectionNote = r.RejectionNote
	}
	return v
}
