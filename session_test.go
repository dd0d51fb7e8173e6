package auth_test

import (
	"testing"
	"time"

	"github.com/propertipro/go-auth"
	"github.com/stretchr/testify/assert"
)

func TestSessionAccessors(t *testing.T) {
	var nilSession *auth.Session
	assert.Empty(t, nilSession.GetUserID())
	assert.Empty(t, nilSession.GetEmail())
	assert.False(t, nilSession.CanRefresh())
	assert.True(t, nilSession.IsExpired(time.Now(), 0))

	s := newSession("u-1", "budi@propertipro.id", "tok")
	assert.Equal(t, "u-1", s.GetUserID())
	assert.Equal(t, "budi@propertipro.id", s.GetEmail())
}

func TestSessionIsExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	s := &auth.Session{AccessToken: "tok", ExpiresAt: now.Add(5 * time.Minute)}
	assert.False(t, s.IsExpired(now, 0))
	assert.False(t, s.IsExpired(now, time.Minute))
	assert.True(t, s.IsExpired(now, 5*time.Minute), "margin reaching the expiry counts as expired")
	assert.True(t, s.IsExpired(now.Add(10*time.Minute), 0))

	noExpiry := &auth.Session{AccessToken: "tok"}
	assert.False(t, noExpiry.IsExpired(now, time.Hour))
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := newSession("u-1", "budi@propertipro.id", "tok")
	s.RefreshToken = "ref"
	s.User.Metadata = map[string]any{"full_name": "Budi"}

	c := s.Clone()
	assert.True(t, s.Equal(c))
	assert.True(t, c.CanRefresh())

	c.User.Metadata["full_name"] = "Andi"
	assert.Equal(t, "Budi", s.User.Metadata["full_name"])

	var nilSession *auth.Session
	assert.Nil(t, nilSession.Clone())
}

func TestSessionEqual(t *testing.T) {
	a := newSession("u-1", "budi@propertipro.id", "tok")
	b := a.Clone()
	assert.True(t, a.Equal(b))

	b.AccessToken = "rotated"
	assert.False(t, a.Equal(b))

	var nilSession *auth.Session
	assert.True(t, nilSession.Equal(nil))
	assert.False(t, a.Equal(nil))
}

func TestSessionString(t *testing.T) {
	s := newSession("u-1", "budi@propertipro.id", "secret-token")
	out := s.String()
	assert.Contains(t, out, "user=u-1")
	assert.NotContains(t, out, "secret-token")
}
