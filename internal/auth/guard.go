package auth

import (
	"github.com/spec-kit/gatekeeper/internal/domain"
	apperrors "github.com/spec-kit/gatekeeper/pkg/util"
)

// Denial reasons reported to callers.
const (
	ReasonNotOwner       = "Access denied. You can only update your own information."
	ReasonRoleChange     = "Access denied. Only admins can change user roles."
	ReasonDeleteNotOwner = "Access denied. You can only delete your own account or must be an admin."
	ReasonAdminRequired  = "Access denied. Admin role required."
)

// Actor is the authenticated caller an authorization decision is made for.
type Actor struct {
	ID   string
	Role domain.Role
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Err converts a denial into a FORBIDDEN error, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperrors.NewForbidden(d.Reason)
}

// Guard decides whether an actor may mutate a target identity. It performs no I/O.
type Guard struct{}

// NewGuard returns a Guard.
func NewGuard() Guard { return Guard{} }

// CanModify allows self-service or admin updates. Role changes always require admin.
func (Guard) CanModify(actor Actor, targetID string, update domain.UserUpdate) Decision {
	if !isAdmin(actor) && !isSelf(actor, targetID) {
		return deny(ReasonNotOwner)
	}
	if update.ChangesRole() && !isAdmin(actor) {
		return deny(ReasonRoleChange)
	}
	return allow()
}

// CanDelete allows deleting one's own account, or any account as admin.
func (Guard) CanDelete(actor Actor, targetID string) Decision {
	if isAdmin(actor) || isSelf(actor, targetID) {
		return allow()
	}
	return deny(ReasonDeleteNotOwner)
}

// RequireAdmin allows admins only.
func (Guard) RequireAdmin(actor Actor) Decision {
	if isAdmin(actor) {
		return allow()
	}
	return deny(ReasonAdminRequired)
}

func isAdmin(actor Actor) bool {
	switch actor.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleUser:
		return false
	default:
		return false
	}
}

func isSelf(actor Actor, targetID string) bool {
	return actor.ID != "" && actor.ID == targetID
}
