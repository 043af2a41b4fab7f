package shared

import "context"

// Role identifies the two user populations sharing the dataset.
type Role string

const (
	// RoleAnesthetist records receptions, exits, incidents and audits.
	RoleAnesthetist Role = "anesthetist"
	// RolePharmacist additionally validates receptions and incidents.
	RolePharmacist Role = "pharmacist"
)

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	return r == RoleAnesthetist || r == RolePharmacist
}

// Actor is the authenticated user performing a request.
type Actor struct {
	ID   string
	Name string
	Role Role
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
