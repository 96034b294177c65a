package rbac

type Role string
type Action string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionComment  Action = "comment"
	ActionReact    Action = "react"
	ActionFlag     Action = "flag"
	ActionModerate Action = "moderate"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleStudent:
		return action == ActionRead || action == ActionComment || action == ActionReact || action == ActionFlag
	default:
		return false
	}
}

// Normalize maps free-form role strings onto a known role. Unknown values
// fall back to the least privileged role.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleStudent, RoleAdmin:
		return Role(role)
	default:
		return RoleStudent
	}
}

// Parse is Normalize without the fallback.
func Parse(role string) (Role, bool) {
	switch Role(role) {
	case RoleStudent, RoleAdmin:
		return Role(role), true
	default:
		return "", false
	}
}

// CanAssume reports whether someone holding role may act through the binding
// of target. Admins may act as students; no role may act above itself.
func CanAssume(role, target Role) bool {
	if role == target {
		return role == RoleStudent || role == RoleAdmin
	}
	return role == RoleAdmin && target == RoleStudent
}
