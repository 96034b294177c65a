// Package session carries the viewer of a request as an explicit context
// value instead of process-wide state.
package session

import (
	"context"

	"portal/threads/internal/rbac"
)

// Viewer is the person on whose behalf comment operations run.
type Viewer struct {
	Role        rbac.Role
	ActorID     int64
	DisplayName string
	AvatarRef   string
}

type viewerKey struct{}
type roleHintKey struct{}

func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerKey{}, viewer)
}

func ViewerFrom(ctx context.Context) (Viewer, bool) {
	viewer, ok := ctx.Value(viewerKey{}).(Viewer)
	return viewer, ok
}

// WithRoleHint asks for a specific backend binding for calls made with ctx,
// overriding the viewer's own role.
func WithRoleHint(ctx context.Context, role rbac.Role) context.Context {
	return context.WithValue(ctx, roleHintKey{}, role)
}

func RoleHint(ctx context.Context) (rbac.Role, bool) {
	role, ok := ctx.Value(roleHintKey{}).(rbac.Role)
	return role, ok && role != ""
}

// Role resolves the role for ctx: an explicit hint first, then the viewer.
func Role(ctx context.Context) (rbac.Role, bool) {
	if role, ok := RoleHint(ctx); ok {
		return role, true
	}
	if viewer, ok := ViewerFrom(ctx); ok && viewer.Role != "" {
		return viewer.Role, true
	}
	return "", false
}
