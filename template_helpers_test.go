package auth_test

import (
	"testing"

	"github.com/propertipro/go-auth"
	"github.com/stretchr/testify/assert"
)

func TestTemplateHelpersAnonymous(t *testing.T) {
	h := auth.TemplateHelpers(auth.InitialState())

	assert.Equal(t, false, h["is_authenticated"])
	assert.Equal(t, false, h["is_admin"])
	assert.Equal(t, true, h["auth_loading"])
	assert.Nil(t, h[auth.TemplateUserKey])

	roles, ok := h["roles"].(map[string]string)
	assert.True(t, ok)
	assert.Equal(t, "superadmin", roles["superadmin"])
}

func TestTemplateHelpersAdmin(t *testing.T) {
	user := auth.NewUser(newProfile("u-1", "Sari", auth.RoleSuperAdmin), "sari@propertipro.id")
	h := auth.TemplateHelpers(auth.AuthState{
		Session:         newSession("u-1", "sari@propertipro.id", "tok"),
		User:            user,
		IsAuthenticated: true,
		Error:           "Invalid login credentials",
	})

	assert.Equal(t, true, h["is_authenticated"])
	assert.Equal(t, true, h["is_admin"])
	assert.Equal(t, true, h["is_super_admin"])
	assert.Equal(t, "Invalid login credentials", h["auth_error"])
	assert.Same(t, user, h[auth.TemplateUserKey])
}
