package auth

import "context"

// RoleGate is an allow-list of roles fixed when a route is registered.
// It must run after the Gate has bound an Identity.
type RoleGate struct {
	allowed map[string]struct{}
}

func NewRoleGate(roles ...string) *RoleGate {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return &RoleGate{allowed: allowed}
}

func (g *RoleGate) Check(ctx context.Context) error {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return ErrNoAccess
	}

	if _, ok := g.allowed[id.User.Role]; !ok {
		return ErrForbidden
	}

	return nil
}
