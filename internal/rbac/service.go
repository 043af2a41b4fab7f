package rbac

import (
	"slices"

	"github.com/anesthmed/anesthmed/internal/shared"
)

// Service resolves permissions from the static role model.
type Service struct{}

// NewService constructs Service.
func NewService() *Service {
	return &Service{}
}

// EffectivePermissions lists the permissions granted to actor, sorted.
func (s *Service) EffectivePermissions(actor shared.Actor) []string {
	perms := slices.Clone(shared.ScopesFor(actor.Role))
	slices.Sort(perms)
	return perms
}

// Principal describes actor for API clients.
func (s *Service) Principal(actor shared.Actor) Principal {
	return Principal{ID: actor.ID, Name: actor.Name, Role: actor.Role, Permissions: s.EffectivePermissions(actor)}
}
