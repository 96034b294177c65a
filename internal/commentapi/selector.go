package commentapi

import (
	"context"
	"fmt"

	"portal/threads/internal/rbac"
	"portal/threads/internal/session"
)

// Selector resolves which role's binding a call should go through: the role
// hint on the context, else the viewer's role, else the fallback.
type Selector struct {
	bindings map[rbac.Role]Binding
	fallback rbac.Role
}

func NewSelector(bindings map[rbac.Role]Binding, fallback rbac.Role) *Selector {
	copied := make(map[rbac.Role]Binding, len(bindings))
	for role, binding := range bindings {
		if binding != nil {
			copied[role] = binding
		}
	}
	return &Selector{bindings: copied, fallback: fallback}
}

func (s *Selector) Resolve(ctx context.Context) (Binding, error) {
	role, ok := session.Role(ctx)
	if !ok {
		role = s.fallback
	}
	binding, ok := s.bindings[role]
	if !ok {
		return nil, Auth(fmt.Sprintf("no comment binding for role %q", role))
	}
	return binding, nil
}
