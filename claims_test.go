package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/propertipro/go-auth"
	"github.com/stretchr/testify/assert"
)

func TestSessionClaimsAccessors(t *testing.T) {
	exp := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)
	iat := exp.Add(-time.Hour)

	claims := &auth.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(iat),
		},
		Email:        "budi@propertipro.id",
		UserMetadata: map[string]any{"role": "agent", "full_name": "Budi"},
	}

	assert.Equal(t, "u-1", claims.UserID())
	assert.True(t, exp.Equal(claims.Expires()))
	assert.True(t, iat.Equal(claims.IssuedAtTime()))

	user := claims.SessionUser()
	assert.Equal(t, "u-1", user.ID)
	assert.Equal(t, "budi@propertipro.id", user.Email)
	assert.Equal(t, "Budi", user.Metadata["full_name"])

	role, ok := claims.ProfileRole()
	assert.True(t, ok)
	assert.Equal(t, auth.RoleAgent, role)
}

func TestSessionClaimsEmpty(t *testing.T) {
	var nilClaims *auth.SessionClaims
	assert.Empty(t, nilClaims.UserID())
	assert.True(t, nilClaims.Expires().IsZero())
	assert.Empty(t, nilClaims.SessionUser().ID)

	claims := &auth.SessionClaims{}
	assert.True(t, claims.IssuedAtTime().IsZero())

	_, ok := claims.ProfileRole()
	assert.False(t, ok)

	claims.UserMetadata = map[string]any{"role": "owner"}
	_, ok = claims.ProfileRole()
	assert.False(t, ok, "unknown roles are rejected")
}
