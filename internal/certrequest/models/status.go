package models

import (
	"fmt"
	"strings"

	"certdesk/internal/policy"
	dErrors "certdesk/pkg/domain-errors"
)

// Status is the lifecycle position of a request.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusInProcess Status = "in_process"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

// ActiveStatuses block a second application for the same service.
var ActiveStatuses = []Status{StatusSubmitted, StatusInProcess, StatusApproved}

// ApplicantListStatuses are the statuses shown in an applicant's own list.
var ApplicantListStatuses = []Status{StatusSubmitted, StatusInProcess}

func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func (s Status) IsActive() bool {
	return s != StatusRejected
}

// QueueFor returns the statuses a staff role works. ok is false for roles
// that have no queue.
func QueueFor(role policy.Role) (statuses []Status, ok bool) {
	switch role {
	case policy.RoleClerk:
		return []Status{StatusSubmitted}, true
	case policy.RoleOfficer:
		return []Status{StatusInProcess}, true
	case policy.RoleAdmin:
		return []Status{StatusSubmitted, StatusInProcess}, true
	default:
		return nil, false
	}
}

// QueueAllows reports whether role works requests in status s.
func QueueAllows(role policy.Role, s Status) bool {
	statuses, ok := QueueFor(role)
	if !ok {
		return false
	}
	for _, q := range statuses {
		if q == s {
			return true
		}
	}
	return false
}

// Decision is a staff verdict on a locked request.
type Decision string

const (
	DecisionApproved  Decision = "approved"
	DecisionRejected  Decision = "rejected"
	DecisionInProcess Decision = "in_process"
	// DecisionSendBack returns an in-process request to the clerk queue.
	DecisionSendBack Decision = "submitted"
)

// ParseDecision accepts approved, rejected, in_process and submitted.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.TrimSpace(s)); d {
	case DecisionApproved, DecisionRejected, DecisionInProcess, DecisionSendBack:
		return d, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("status must be one of approved, rejected, in_process, submitted; got %q", s))
	}
}

// Target is the status a request ends in after the decision.
func (d Decision) Target() Status {
	return Status(d)
}

// AllowedFrom encodes the transition table:
//
//	submitted  -> in_process | rejected
//	in_process -> approved | rejected | in_process (release) | submitted (send back)
func (d Decision) AllowedFrom(s Status) bool {
	switch s {
	case StatusSubmitted:
		return d == DecisionInProcess || d == DecisionRejected
	case StatusInProcess:
		return true
	default:
		return false
	}
}

// AuditMessage describes the decision for the audit trail.
func (d Decision) AuditMessage(p DecisionPayload) string {
	switch d {
	case DecisionApproved:
		return "Certificate approved. URL: " + p.CertificateURL
	case DecisionRejected:
		return "Rejected: " + p.Note
	case DecisionSendBack:
		return "Sent back to submitted"
	default:
		return "Marked in_process"
	}
}
