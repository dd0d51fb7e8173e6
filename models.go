package auth

import (
	"time"

	"github.com/uptrace/bun"
)

// UserStatus is the account status stored on the profile
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"
)

// IsValid checks if the status is one of the known statuses
func (s UserStatus) IsValid() bool {
	switch s {
	case UserStatusActive, UserStatusInactive, UserStatusSuspended:
		return true
	default:
		return false
	}
}

// UserProfile is the application record keyed by the session subject.
type UserProfile struct {
	bun.BaseModel `bun:"table:user_profiles,alias:up"`
	ID            string     `bun:"id,pk" json:"id"`
	FullName      string     `bun:"full_name,notnull" json:"full_name"`
	Role          UserRole   `bun:"role,notnull" json:"role"`
	Status        UserStatus `bun:"status,notnull" json:"status"`
	Phone         string     `bun:"phone,nullzero" json:"phone,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	LastLoginAt   *time.Time `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
}

// EnsureStatus defaults an empty status to active
func (p *UserProfile) EnsureStatus() {
	if p == nil {
		return
	}
	if p.Status == "" {
		p.Status = UserStatusActive
	}
}

// EnsureRole defaults an empty role to user
func (p *UserProfile) EnsureRole() {
	if p == nil {
		return
	}
	if p.Role == "" {
		p.Role = RoleUser
	}
}

// User is the UI facing profile merged with the session email.
type User struct {
	UserProfile
	Email string `json:"email"`
}

// NewUser merges a profile row with the email carried by the session
func NewUser(profile *UserProfile, email string) *User {
	if profile == nil {
		return nil
	}
	return &User{
		UserProfile: *profile,
		Email:       email,
	}
}

// IsActive returns true when the account status is active
func (u *User) IsActive() bool {
	return u != nil && u.Status == UserStatusActive
}

// Merge returns a copy of u with the row attributes applied. The email
// stays the one derived from the session.
func (u *User) Merge(row *UserProfile) *User {
	if u == nil {
		return nil
	}
	merged := *u
	if row == nil {
		return &merged
	}
	email := merged.Email
	merged.UserProfile = *row
	if merged.ID == "" {
		merged.ID = u.ID
	}
	merged.Email = email
	return &merged
}

// Equal compares two users field by field
func (u *User) Equal(o *User) bool {
	if u == nil || o == nil {
		return u == o
	}
	return u.ID == o.ID &&
		u.Email == o.Email &&
		u.FullName == o.FullName &&
		u.Role == o.Role &&
		u.Status == o.Status &&
		u.Phone == o.Phone &&
		u.CreatedAt.Equal(o.CreatedAt) &&
		timePtrEqual(u.LastLoginAt, o.LastLoginAt)
}

// SignUpAttributes are the profile attributes sent with a sign up
type SignUpAttributes struct {
	FullName string   `json:"full_name"`
	Phone    string   `json:"phone,omitempty"`
	Role     UserRole `json:"role,omitempty"`
}

// Metadata returns the attributes as provider user metadata
func (a SignUpAttributes) Metadata() map[string]any {
	role := a.Role
	if role == "" {
		role = RoleUser
	}

	md := map[string]any{
		"full_name": a.FullName,
		"role":      string(role),
	}
	if a.Phone != "" {
		md["phone"] = a.Phone
	}
	return md
}

// ProfileUpdate is a partial profile update. Nil fields are left untouched.
type ProfileUpdate struct {
	FullName    *string     `json:"full_name,omitempty"`
	Phone       *string     `json:"phone,omitempty"`
	Role        *UserRole   `json:"role,omitempty"`
	Status      *UserStatus `json:"status,omitempty"`
	LastLoginAt *time.Time  `json:"last_login_at,omitempty"`
}

// IsEmpty returns true when no field is set
func (u ProfileUpdate) IsEmpty() bool {
	return u.FullName == nil &&
		u.Phone == nil &&
		u.Role == nil &&
		u.Status == nil &&
		u.LastLoginAt == nil
}

// Columns returns the column names touched by the update
func (u ProfileUpdate) Columns() []string {
	cols := make([]string, 0, 5)
	if u.FullName != nil {
		cols = append(cols, "full_name")
	}
	if u.Phone != nil {
		cols = append(cols, "phone")
	}
	if u.Role != nil {
		cols = append(cols, "role")
	}
	if u.Status != nil {
		cols = append(cols, "status")
	}
	if u.LastLoginAt != nil {
		cols = append(cols, "last_login_at")
	}
	return cols
}

// Apply writes the set fields into p
func (u ProfileUpdate) Apply(p *UserProfile) {
	if p == nil {
		return
	}
	if u.FullName != nil {
		p.FullName = *u.FullName
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	if u.Role != nil {
		p.Role = *u.Role
	}
	if u.Status != nil {
		p.Status = *u.Status
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		p.LastLoginAt = &t
	}
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
