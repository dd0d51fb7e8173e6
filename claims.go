package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the access token payload. The shape follows the hosted
// identity provider so the same type decodes tokens from every provider.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// UserID returns the subject claim
func (c *SessionClaims) UserID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}

// Expires returns the expiry, zero when absent
func (c *SessionClaims) Expires() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// IssuedAtTime returns the issue time, zero when absent
func (c *SessionClaims) IssuedAtTime() time.Time {
	if c == nil || c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// SessionUser returns the identity carried by the token
func (c *SessionClaims) SessionUser() SessionUser {
	if c == nil {
		return SessionUser{}
	}
	return SessionUser{
		ID:       c.Subject,
		Email:    c.Email,
		Metadata: c.UserMetadata,
	}
}

// ProfileRole returns the application role from user metadata, if present
func (c *SessionClaims) ProfileRole() (UserRole, bool) {
	if c == nil || c.UserMetadata == nil {
		return "", false
	}
	raw, ok := c.UserMetadata["role"].(string)
	if !ok {
		return "", false
	}
	return ParseRole(raw)
}
