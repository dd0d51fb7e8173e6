package auth

// UserRole is the user's privilege level
type UserRole string

const (
	// RoleUser is a regular marketplace user (browse, save, contact)
	RoleUser UserRole = "user"
	// RoleAgent is a property agent (user plus listing management)
	RoleAgent UserRole = "agent"
	// RoleAdmin can access the back-office
	RoleAdmin UserRole = "admin"
	// RoleSuperAdmin can access the back-office and manage admins
	RoleSuperAdmin UserRole = "superadmin"
)

// IsValid checks if the role is one of the predefined valid roles
func (r UserRole) IsValid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// IsAdmin is true for admin and superadmin
func (r UserRole) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// IsSuperAdmin is true only for superadmin
func (r UserRole) IsSuperAdmin() bool {
	return r == RoleSuperAdmin
}

// IsAtLeast checks if this role meets the minimum required level
func (r UserRole) IsAtLeast(minRole UserRole) bool {
	roleHierarchy := map[UserRole]int{
		RoleUser:       0,
		RoleAgent:      1,
		RoleAdmin:      2,
		RoleSuperAdmin: 3,
	}

	currentLevel, exists := roleHierarchy[r]
	if !exists {
		return false
	}

	minLevel, exists := roleHierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

// ParseRole safely parses a string into a UserRole type
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(roleStr)
	return role, role.IsValid()
}
