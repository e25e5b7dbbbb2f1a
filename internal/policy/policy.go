// Package policy is the single place where an actor's role is checked against
// the operation they are attempting.
//
// Roles form a closed set; anything the identity provider sends outside that
// set fails ParseRole and never reaches a service. The capability table below
// is consulted once per operation at the service boundary.
package policy

import (
	"context"
	"fmt"

	id "certdesk/pkg/domain"
	dErrors "certdesk/pkg/domain-errors"
	"certdesk/pkg/requestcontext"
)

// Role is a closed enumeration of actor roles.
type Role string

const (
	RoleUser    Role = "user"
	RoleClerk   Role = "clerk"
	RoleOfficer Role = "officer"
	RoleAdmin   Role = "admin"
)

// ParseRole validates an identity-provider role claim.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUser, RoleClerk, RoleOfficer, RoleAdmin:
		return r, nil
	default:
		return "", dErrors.New(dErrors.CodeForbidden, fmt.Sprintf("unknown role %q", s))
	}
}

func (r Role) String() string { return string(r) }

// IsStaff reports whether the role works the review queues.
func (r Role) IsStaff() bool {
	return r == RoleClerk || r == RoleOfficer || r == RoleAdmin
}

// Operation names a role-gated action.
type Operation string

const (
	OpSubmit         Operation = "submit"
	OpListOwn        Operation = "list_own"
	OpListAssignable Operation = "list_assignable"
	OpLock           Operation = "lock"
	OpDecide         Operation = "decide"
	OpViewAssigned   Operation = "view_assigned"
	OpManageServices Operation = "manage_services"
	OpViewAudit      Operation = "view_audit"
)

var capabilities = map[Role]map[Operation]bool{
	RoleUser: {
		OpSubmit:  true,
		OpListOwn: true,
	},
	RoleClerk: {
		OpListAssignable: true,
		OpLock:           true,
		OpDecide:         true,
		OpViewAssigned:   true,
	},
	RoleOfficer: {
		OpListAssignable: true,
		OpLock:           true,
		OpDecide:         true,
		OpViewAssigned:   true,
	},
	RoleAdmin: {
		OpSubmit:         true,
		OpListOwn:        true,
		OpListAssignable: true,
		OpLock:           true,
		OpDecide:         true,
		OpViewAssigned:   true,
		OpManageServices: true,
		OpViewAudit:      true,
	},
}

// Allowed reports whether role may perform op.
func Allowed(role Role, op Operation) bool {
	return capabilities[role][op]
}

// Actor is the authenticated caller as supplied by the identity layer.
type Actor struct {
	ID    id.UserID
	Role  Role
	Email string
}

// Authorize returns a Forbidden error unless the actor may perform op.
func Authorize(actor Actor, op Operation) error {
	if actor.ID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if !Allowed(actor.Role, op) {
		return dErrors.New(dErrors.CodeForbidden, fmt.Sprintf("role %q may not %s", actor.Role, op))
	}
	return nil
}

// ActorFrom builds the Actor placed in ctx by the authentication middleware.
func ActorFrom(ctx context.Context) Actor {
	return Actor{
		ID:    requestcontext.UserID(ctx),
		Role:  Role(requestcontext.Role(ctx)),
		Email: requestcontext.Email(ctx),
	}
}
