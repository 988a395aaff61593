package access

import (
	"context"

	id "insureflow/pkg/domain"
)

// Actor is the authenticated principal performing an operation.
// HospitalID is set only for hospital accounts.
type Actor struct {
	UserID     id.UserID
	Role       Role
	Superuser  bool
	HospitalID id.HospitalID
}

// System is the actor used by CLI commands and bootstrap paths.
var System = Actor{Role: RoleAdmin, Superuser: true}

// IsAuthenticated reports whether the actor came from a validated credential.
func (a Actor) IsAuthenticated() bool {
	return !a.UserID.IsNil() || a.Superuser
}

// Is reports whether the actor holds one of roles. Superuser status is not considered.
func (a Actor) Is(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// ActsFor reports whether the actor may act on behalf of hospital h.
func (a Actor) ActsFor(h id.HospitalID) bool {
	if a.Superuser {
		return true
	}
	return a.Role == RoleHospital && !a.HospitalID.IsNil() && a.HospitalID == h
}

type actorKey struct{}

// WithActor stores the authenticated actor on the request context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor placed on the context by the auth middleware.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
