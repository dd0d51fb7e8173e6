package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/propertipro/go-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenServiceGenerateValidate(t *testing.T) {
	ts := auth.NewTokenService([]byte("rahasia"), time.Hour, "propertipro", jwt.ClaimStrings{"authenticated"}, nopLogger{})

	user := auth.SessionUser{
		ID:       "u-1",
		Email:    "budi@propertipro.id",
		Metadata: map[string]any{"role": "agent"},
	}

	token, expiresAt, err := ts.Generate(user, "sess-1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 2*time.Second)

	claims, err := ts.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID())
	assert.Equal(t, "budi@propertipro.id", claims.Email)
	assert.Equal(t, "sess-1", claims.SessionID)

	role, ok := claims.ProfileRole()
	assert.True(t, ok)
	assert.Equal(t, auth.RoleAgent, role)
	assert.Equal(t, user, claims.SessionUser())
}

func TestTokenServiceAudience(t *testing.T) {
	issuer := auth.NewTokenService([]byte("rahasia"), time.Minute, "", jwt.ClaimStrings{"authenticated", "admin-panel"}, nopLogger{})
	token, _, err := issuer.Generate(auth.SessionUser{ID: "u-1"}, "")
	require.NoError(t, err)

	_, err = issuer.Validate(token)
	require.NoError(t, err)

	other := auth.NewTokenService([]byte("rahasia"), time.Minute, "", jwt.ClaimStrings{"mobile"}, nopLogger{})
	_, err = other.Validate(token)
	assert.ErrorIs(t, err, auth.ErrTokenMalformed)
}

func TestTokenServiceRejectsExpired(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	issuer := auth.NewTokenService([]byte("rahasia"), time.Minute, "", nil, nopLogger{}).
		WithClock(func() time.Time { return past })

	token, _, err := issuer.Generate(auth.SessionUser{ID: "u-1"}, "")
	require.NoError(t, err)

	validator := auth.NewTokenService([]byte("rahasia"), time.Minute, "", nil, nopLogger{})
	_, err = validator.Validate(token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
	assert.True(t, auth.IsTokenExpiredError(err))
}

func TestTokenServiceRejectsWrongKey(t *testing.T) {
	issuer := auth.NewTokenService([]byte("rahasia"), time.Minute, "", nil, nopLogger{})
	token, _, err := issuer.Generate(auth.SessionUser{ID: "u-1"}, "")
	require.NoError(t, err)

	other := auth.NewTokenService([]byte("lain"), time.Minute, "", nil, nopLogger{})
	_, err = other.Validate(token)
	assert.True(t, auth.IsMalformedError(err))
}

func TestMultiTokenValidator(t *testing.T) {
	first := auth.NewTokenService([]byte("satu"), time.Minute, "", nil, nopLogger{})
	second := auth.NewTokenService([]byte("dua"), time.Minute, "", nil, nopLogger{})

	token, _, err := second.Generate(auth.SessionUser{ID: "u-2"}, "")
	require.NoError(t, err)

	multi := auth.NewMultiTokenValidator(first, nil, second)
	claims, err := multi.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u-2", claims.UserID())

	_, err = auth.NewMultiTokenValidator(first).Validate("not-a-token")
	assert.ErrorIs(t, err, auth.ErrTokenMalformed)
}

func TestUnverifiedValidator(t *testing.T) {
	ts := auth.NewTokenService([]byte("rahasia"), time.Minute, "", nil, nopLogger{})
	token, _, err := ts.Generate(auth.SessionUser{ID: "u-3", Email: "x@propertipro.id"}, "")
	require.NoError(t, err)

	claims, err := auth.UnverifiedValidator{}.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u-3", claims.UserID())

	_, err = auth.UnverifiedValidator{}.Validate("garbage")
	assert.ErrorIs(t, err, auth.ErrTokenMalformed)
}
