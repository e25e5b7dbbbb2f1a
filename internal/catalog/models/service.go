package models

import (
	"fmt"
	"strings"
	"time"

	id "certdesk/pkg/domain"
	dErrors "certdesk/pkg/domain-errors"
)

// RequirementKind is the shape of value a requirement accepts.
type RequirementKind string

const (
	KindText RequirementKind = "text"
	KindFile RequirementKind = "file"
)

// ParseRequirementKind accepts "text" or "file"; empty defaults to text.
func ParseRequirementKind(s string) (RequirementKind, error) {
	switch k := RequirementKind(strings.TrimSpace(s)); k {
	case "":
		return KindText, nil
	case KindText, KindFile:
		return k, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "'type' must be either 'text' or 'file'")
	}
}

// RequirementDescriptor declares one field an applicant must (or may) supply.
type RequirementDescriptor struct {
	Label    string          `json:"label"`
	Kind     RequirementKind `json:"type"`
	Required bool            `json:"required"`
}

// Service is a certificate the office issues.
//
// Invariants:
//   - Name and Eligibility are non-empty
//   - Requirement labels are non-empty and unique (case-sensitive)
//   - Requirement order is preserved; applicants see fields in this order
type Service struct {
	ID           id.ServiceID            `json:"id"`
	Name         string                  `json:"name"`
	Eligibility  string                  `json:"eligibility"`
	Requirements []RequirementDescriptor `json:"requirements"`
	CreatedBy    id.UserID               `json:"created_by"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// NewService validates the invariants and stamps timestamps.
func NewService(serviceID id.ServiceID, name, eligibility string, reqs []RequirementDescriptor, createdBy id.UserID, now time.Time) (*Service, error) {
	s := &Service{
		ID:        serviceID,
		CreatedBy: createdBy,
		CreatedAt: now,
	}
	if err := s.ApplyUpdate(name, eligibility, reqs, now); err != nil {
		return nil, err
	}
	return s, nil
}

// ApplyUpdate replaces the mutable fields after validating them.
func (s *Service) ApplyUpdate(name, eligibility string, reqs []RequirementDescriptor, now time.Time) error {
	name = strings.TrimSpace(name)
	eligibility = strings.TrimSpace(eligibility)
	if name == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "service name cannot be empty")
	}
	if eligibility == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "service eligibility cannot be empty")
	}
	if err := validateRequirements(reqs); err != nil {
		return err
	}
	s.Name = name
	s.Eligibility = eligibility
	s.Requirements = reqs
	s.UpdatedAt = now
	return nil
}

// Descriptor looks up a requirement by its exact label.
func (s *Service) Descriptor(label string) (RequirementDescriptor, bool) {
	for _, d := range s.Requirements {
		if d.Label == label {
			return d, true
		}
	}
	return RequirementDescriptor{}, false
}

func validateRequirements(reqs []RequirementDescriptor) error {
	seen := make(map[string]struct{}, len(reqs))
	for i := range reqs {
		reqs[i].Label = strings.TrimSpace(reqs[i].Label)
		label := reqs[i].Label
		if label == "" {
			return dErrors.New(dErrors.CodeInvariantViolation, "each requirement must have a non-empty label")
		}
		if reqs[i].Kind != KindText && reqs[i].Kind != KindFile {
			return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("requirement %q has unknown type %q", label, reqs[i].Kind))
		}
		if _, dup := seen[label]; dup {
			return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("requirement label %q is declared twice", label))
		}
		seen[label] = struct{}{}
	}
	return nil
}
