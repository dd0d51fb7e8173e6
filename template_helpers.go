package auth

import (
	"maps"

	"github.com/gofiber/fiber/v2"
)

var TemplateUserKey = "current_user"

// TemplateCSRFKey is the Locals key where the csrf middleware stores its token
var TemplateCSRFKey = "csrf"

// TemplateHelpers returns the global data exposed to view templates for a
// snapshot.
//
// In templates you can then use:
//
//	{% if is_authenticated %}
//	{% if is_admin %}
//	{{ current_user.FullName }}
//	{% if current_user.Role == roles.agent %}
func TemplateHelpers(state AuthState) map[string]any {
	helpers := map[string]any{
		"is_authenticated": state.IsAuthenticated,
		"is_admin":         state.IsAdmin(),
		"is_super_admin":   state.IsSuperAdmin(),
		"auth_loading":     state.Loading,
		"auth_error":       state.Error,
		TemplateUserKey:    state.User,

		"roles": map[string]string{
			"user":       string(RoleUser),
			"agent":      string(RoleAgent),
			"admin":      string(RoleAdmin),
			"superadmin": string(RoleSuperAdmin),
		},
	}

	return helpers
}

// TemplateHelpersWithFiber returns the helpers for the snapshot attached to
// the request, plus the csrf token when the csrf middleware is mounted.
//
// Usage:
//
//	return c.Render("login", auth.TemplateHelpersWithFiber(c, fiber.Map{
//		"form": form,
//	}), "layouts/main")
func TemplateHelpersWithFiber(c *fiber.Ctx, data map[string]any) map[string]any {
	state, ok := StateFromLocals(c)
	if !ok {
		state, _ = StateFromContext(c.UserContext())
	}

	helpers := TemplateHelpers(state)
	if token, ok := c.Locals(TemplateCSRFKey).(string); ok && token != "" {
		helpers["csrf_token"] = token
	}

	maps.Copy(helpers, data)
	return helpers
}
