package models

// Role is the resolved role of an authenticated user.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleParent  Role = "parent"
)

// IsValid reports whether the role is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleParent:
		return true
	}
	return false
}

// Portal returns the portal this role signs in through.
// Parents share the student portal.
func (r Role) Portal() Portal {
	switch r {
	case RoleAdmin:
		return PortalAdmin
	case RoleTeacher:
		return PortalTeacher
	case RoleStudent, RoleParent:
		return PortalStudent
	}
	return ""
}

// Portal is one of the three role-scoped entry points.
type Portal string

const (
	PortalAdmin   Portal = "admin"
	PortalTeacher Portal = "teacher"
	PortalStudent Portal = "student"
)

// IsValid reports whether the portal tag is known.
func (p Portal) IsValid() bool {
	switch p {
	case PortalAdmin, PortalTeacher, PortalStudent:
		return true
	}
	return false
}

// Accepts reports whether accounts with the given role sign in through this portal.
func (p Portal) Accepts(r Role) bool {
	return r.Portal() == p
}

// User statuses as stored in the users table.
const (
	UserStatusActive = "active"
	UserStatusLocked = "locked"
)

// User is the resolved user record attached to a session.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	SchoolID string `json:"school_id,omitempty"`
}
