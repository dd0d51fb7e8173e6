package jwtware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/propertipro/go-auth"
	"github.com/propertipro/go-auth/middleware/jwtware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

var signingKey = []byte("jwtware-test-signing-key")

func tokens() *auth.TokenService {
	return auth.NewTokenService(signingKey, time.Hour, "propertipro", jwt.ClaimStrings{"authenticated"}, nopLogger{})
}

func issue(t *testing.T, ts *auth.TokenService, role auth.UserRole) string {
	t.Helper()
	token, _, err := ts.Generate(auth.SessionUser{
		ID:       "u-1",
		Email:    "budi@propertipro.id",
		Metadata: map[string]any{"role": string(role)},
	}, "sess-1")
	require.NoError(t, err)
	return token
}

func newApp(cfg jwtware.Config) *fiber.App {
	app := fiber.New()
	app.Use(jwtware.New(cfg))
	app.Get("/me", func(c *fiber.Ctx) error {
		claims, ok := jwtware.ClaimsFromContext(c.UserContext())
		if !ok {
			return fiber.ErrInternalServerError
		}
		return c.JSON(fiber.Map{"id": claims.UserID(), "email": claims.Email})
	})
	app.Get("/token/:token", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func TestBearerHeader(t *testing.T) {
	ts := tokens()
	app := newApp(jwtware.Config{Validator: ts})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+issue(t, ts, auth.RoleUser))

	status, body := do(t, app, req)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "u-1", body["id"])
	assert.Equal(t, "budi@propertipro.id", body["email"])
}

func TestMissingAndInvalidTokens(t *testing.T) {
	app := newApp(jwtware.Config{Validator: tokens()})

	status, body := do(t, app, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, jwtware.ErrJWTMissingOrMalformed.Message, body["error"])
	assert.Equal(t, "JWT_MISSING", body["text_code"])

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Basic dXNlcjpwYXNz")
	status, _ = do(t, app, req)
	assert.Equal(t, http.StatusBadRequest, status)

	other := auth.NewTokenService([]byte("some-other-signing-key"), time.Hour, "propertipro", nil, nopLogger{})
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+issue(t, other, auth.RoleUser))
	status, _ = do(t, app, req)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestExpiredToken(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	old := tokens().WithClock(func() time.Time { return past })

	app := newApp(jwtware.Config{Validator: tokens()})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+issue(t, old, auth.RoleUser))
	status, body := do(t, app, req)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "token is expired", body["error"])
	assert.Equal(t, auth.TextCodeTokenExpired, body["text_code"])
}

func TestMinimumRole(t *testing.T) {
	ts := tokens()
	app := newApp(jwtware.Config{Validator: ts, MinimumRole: auth.RoleAdmin})

	tests := []struct {
		role auth.UserRole
		want int
	}{
		{auth.RoleUser, http.StatusForbidden},
		{auth.RoleAgent, http.StatusForbidden},
		{auth.RoleAdmin, http.StatusOK},
		{auth.RoleSuperAdmin, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			req.Header.Set(fiber.HeaderAuthorization, "Bearer "+issue(t, ts, tt.role))
			status, body := do(t, app, req)
			assert.Equal(t, tt.want, status)
			if tt.want == http.StatusForbidden {
				assert.Equal(t, "INSUFFICIENT_ROLE", body["text_code"])
			}
		})
	}
}

func TestCustomLookupAndFilter(t *testing.T) {
	ts := tokens()
	token := issue(t, ts, auth.RoleUser)

	app := newApp(jwtware.Config{
		Validator:   ts,
		TokenLookup: "query:access_token,cookie:pp_token",
		Filter: func(c *fiber.Ctx) bool {
			return c.Path() == "/token/public"
		},
	})

	status, _ := do(t, app, httptest.NewRequest(http.MethodGet, "/me?access_token="+token, nil))
	assert.Equal(t, http.StatusOK, status)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "pp_token", Value: token})
	status, _ = do(t, app, req)
	assert.Equal(t, http.StatusOK, status)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/token/public", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestValidationListenerRejects(t *testing.T) {
	ts := tokens()
	var seen string

	app := newApp(jwtware.Config{
		Validator: ts,
		ValidationListeners: []jwtware.ValidationListener{
			func(c *fiber.Ctx, claims *auth.SessionClaims) error {
				seen = claims.SessionID
				return auth.ErrTokenMalformed
			},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+issue(t, ts, auth.RoleUser))
	status, _ := do(t, app, req)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "sess-1", seen)
}

func TestRoleFromClaims(t *testing.T) {
	assert.Equal(t, auth.RoleUser, jwtware.RoleFromClaims(&auth.SessionClaims{}))
	assert.Equal(t, auth.RoleAgent, jwtware.RoleFromClaims(&auth.SessionClaims{
		UserMetadata: map[string]any{"role": "agent"},
	}))
}

func TestNewPanicsWithoutValidator(t *testing.T) {
	assert.Panics(t, func() { jwtware.New() })
}

func TestGetExtractors(t *testing.T) {
	assert.Len(t, jwtware.GetExtractors("header:Authorization, query:t ,cookie:c,param:p,bogus"), 4)
	assert.Empty(t, jwtware.GetExtractors(""))
}
