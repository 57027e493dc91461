package rbac

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned when a role lacks a required permission.
// The message deliberately does not say which roles would have been granted
// access, so denials cannot be used to enumerate the role matrix.
var ErrPermissionDenied = errors.New("permission denied")

// Auditor receives every authorization outcome, granted or denied.
// Implemented by the audit package.
type Auditor interface {
	Authz(ctx context.Context, actor, role, permission, resource, traceID string, allowed bool)
}

// Enforcer checks that a resolved role holds every permission an operation
// requires. It is pure and safe for concurrent use; the only side effect is
// reporting outcomes to the auditor.
type Enforcer struct {
	auditor Auditor
}

// NewEnforcer creates an Enforcer. auditor may be nil.
func NewEnforcer(auditor Auditor) *Enforcer {
	return &Enforcer{auditor: auditor}
}

// Require verifies that role holds all of the required permissions (AND
// semantics). actor, resource, and traceID are audit metadata only. On the
// first missing permission it records a denial and returns
// ErrPermissionDenied; remaining permissions are not evaluated.
func (e *Enforcer) Require(ctx context.Context, actor string, role Role, resource, traceID string, required ...Permission) error {
	for _, p := range required {
		if !HasPermission(role, p) {
			if e.auditor != nil {
				e.auditor.Authz(ctx, actor, string(role), string(p), resource, traceID, false)
			}
			return ErrPermissionDenied
		}
	}
	if e.auditor != nil {
		for _, p := range required {
			e.auditor.Authz(ctx, actor, string(role), string(p), resource, traceID, true)
		}
	}
	return nil
}
