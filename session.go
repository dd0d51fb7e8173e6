package auth

import (
	"fmt"
	"maps"
	"time"
)

// SessionUser is the identity attached to a provider session
type SessionUser struct {
	ID       string         `json:"id"`
	Email    string         `json:"email,omitempty"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// Session is the provider issued token bundle. The Manager treats it as read
// only; providers replace it on refresh.
type Session struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token,omitempty"`
	TokenType    string      `json:"token_type,omitempty"`
	ExpiresAt    time.Time   `json:"expires_at"`
	User         SessionUser `json:"user"`
}

// GetUserID returns the subject identifier
func (s *Session) GetUserID() string {
	if s == nil {
		return ""
	}
	return s.User.ID
}

// GetEmail returns the email carried by the session
func (s *Session) GetEmail() string {
	if s == nil {
		return ""
	}
	return s.User.Email
}

// CanRefresh is true when the session carries a refresh token
func (s *Session) CanRefresh() bool {
	return s != nil && s.RefreshToken != ""
}

// IsExpired reports whether the access token expires within margin of now
func (s *Session) IsExpired(now time.Time, margin time.Duration) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(s.ExpiresAt)
}

// Clone returns a deep copy of s
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.User.Metadata != nil {
		c.User.Metadata = maps.Clone(s.User.Metadata)
	}
	return &c
}

// Equal compares the token bundle and subject of both sessions
func (s *Session) Equal(o *Session) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.AccessToken == o.AccessToken &&
		s.RefreshToken == o.RefreshToken &&
		s.TokenType == o.TokenType &&
		s.ExpiresAt.Equal(o.ExpiresAt) &&
		s.User.ID == o.User.ID &&
		s.User.Email == o.User.Email
}

func (s Session) String() string {
	return fmt.Sprintf(
		"user=%s email=%s exp=%s refresh=%t",
		s.User.ID,
		s.User.Email,
		s.ExpiresAt.Format(time.RFC1123),
		s.RefreshToken != "",
	)
}
