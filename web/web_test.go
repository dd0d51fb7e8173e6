package web_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/propertipro/go-auth"
	"github.com/propertipro/go-auth/config"
	"github.com/propertipro/go-auth/persistence"
	"github.com/propertipro/go-auth/provider/local"
	"github.com/propertipro/go-auth/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type captureMailer struct {
	mu    sync.Mutex
	links map[string]string
}

func (m *captureMailer) SendRecovery(_ context.Context, email, link string) error {
	m.put("recovery:"+email, link)
	return nil
}

func (m *captureMailer) SendConfirmation(_ context.Context, email, link string) error {
	m.put("signup:"+email, link)
	return nil
}

func (m *captureMailer) put(key, link string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links == nil {
		m.links = map[string]string{}
	}
	m.links[key] = link
}

func (m *captureMailer) link(t *testing.T, key string) *url.URL {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.links[key]
	require.True(t, ok, "no link sent for %s", key)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

// testClock runs ahead of the wall clock by offset
type testClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

type fixture struct {
	app      *fiber.App
	service  *local.Service
	registry *web.Registry
	mailer   *captureMailer
	tokens   *auth.TokenService
	clock    *testClock
}

func newFixture(t *testing.T, opts ...web.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := persistence.Open(persistence.Options{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, persistence.Migrate(ctx, db, local.Migrations(), nil))

	cfg := config.Defaults()
	cfg.App.SiteURL = "https://properti.test"
	cfg.Auth.SigningKey = "web-test-secret"

	mailer := &captureMailer{}
	clock := &testClock{}
	tokens := auth.NewTokenService([]byte(cfg.Auth.SigningKey), cfg.Auth.TokenExpiration, cfg.Auth.Issuer, nil, nopLogger{}).
		WithClock(clock.now)
	service := local.NewService(db, tokens, local.WithLogger(nopLogger{}), local.WithMailer(mailer), local.WithClock(clock.now))

	storage := auth.NewMemorySessionStorage()
	registry := web.NewRegistry(func(key string) (auth.SessionProvider, auth.ProfileStore) {
		return service.NewClient(storage, key), service.Store()
	}, cfg,
		web.WithRegistryLogger(nopLogger{}),
		web.WithRegistryClock(clock.now),
		web.WithManagerOptions(auth.WithManagerLogger(nopLogger{})),
	)
	t.Cleanup(registry.Close)

	base := []web.Option{web.WithLogger(nopLogger{}), web.WithoutCSRF(), web.WithTokenValidator(tokens)}
	app := web.New(cfg, registry, append(base, opts...)...)

	return &fixture{app: app, service: service, registry: registry, mailer: mailer, tokens: tokens, clock: clock}
}

func (f *fixture) user(t *testing.T, email, password string, role auth.UserRole) {
	t.Helper()
	ctx := context.Background()
	_, err := f.service.CreateUser(ctx, email, password, auth.SignUpAttributes{FullName: "Budi", Role: role}, true)
	require.NoError(t, err)
}

// browser keeps cookies between requests
type browser struct {
	t       *testing.T
	app     *fiber.App
	cookies map[string]string
}

func (f *fixture) browser(t *testing.T) *browser {
	return &browser{t: t, app: f.app, cookies: map[string]string{}}
}

type page struct {
	status   int
	location string
	body     string
}

func (b *browser) get(path string) page {
	return b.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (b *browser) post(path string, form url.Values) page {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) do(req *http.Request) page {
	b.t.Helper()
	for name, value := range b.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	res, err := b.app.Test(req, -1)
	require.NoError(b.t, err)
	defer res.Body.Close()

	for _, c := range res.Cookies() {
		if c.Value == "" || (!c.Expires.IsZero() && c.Expires.Before(time.Now())) {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c.Value
	}

	body, err := io.ReadAll(res.Body)
	require.NoError(b.t, err)

	return page{
		status:   res.StatusCode,
		location: res.Header.Get("Location"),
		body:     string(body),
	}
}

func credentials(email, password string) url.Values {
	return url.Values{"email": {email}, "password": {password}}
}

func TestHome_Anonymous(t *testing.T) {
	f := newFixture(t)
	b := f.browser(t)

	res := b.get("/")
	assert.Equal(t, http.StatusOK, res.status)
	assert.Contains(t, res.body, "Masuk")
	assert.Contains(t, res.body, "Daftar")
	assert.Equal(t, 0, f.registry.Len(), "anonymous visitors do not allocate a manager")
}

func TestLogin_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	b := f.browser(t)

	res := b.post("/login", url.Values{})
	assert.Equal(t, http.StatusUnprocessableEntity, res.status)
	assert.Contains(t, res.body, "Email dan password harus diisi")
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t)
	f.user(t, "budi@example.com", "Rahasia123", auth.RoleUser)
	b := f.browser(t)

	res := b.post("/login", credentials("budi@example.com", "salah-sekali"))
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Contains(t, res.body, "Invalid login credentials")
	assert.Contains(t, res.body, "budi@example.com", "email is kept in the form")
}

func TestLogin_SignsInAndLogsOut(t *testing.T) {
	f := newFixture(t)
	f.user(t, "budi@example.com", "Rahasia123", auth.RoleUser)
	b := f.browser(t)

	res := b.post("/login", credentials("budi@example.com", "Rahasia123"))
	assert.Equal(t, http.StatusSeeOther, res.status)
	assert.Equal(t, "/", res.location)

	res = b.get("/")
	assert.Contains(t, res.body, "Selamat datang kembali, budi@example.com")

	res = b.get("/login")
	assert.Equal(t, http.StatusSeeOther, res.status, "signed in users skip the login page")

	res = b.get("/logout")
	assert.NotEqual(t, http.StatusSeeOther, res.status, "logout only accepts POST")
	res = b.get("/")
	assert.Contains(t, res.body, "Selamat datang kembali, budi@example.com")

	res = b.post("/logout", nil)
	assert.Equal(t, http.StatusSeeOther, res.status)
	assert.Equal(t, "/login", res.location)

	res = b.get("/")
	assert.NotContains(t, res.body, "Selamat datang kembali")
}

func TestAdmin_RedirectsAnonymousToAdminLoginAndBack(t *testing.T) {
	f := newFixture(t)
	f.user(t, "admin@example.com", "Rahasia123", auth.RoleAdmin)
	b := f.browser(t)

	res := b.get("/admin/users")
	assert.Equal(t, http.StatusSeeOther, res.status)
	assert.Equal(t, "/admin/login", res.location)
	assert.Equal(t, "/admin/users", b.cookies["rejected_route"])

	res = b.get("/admin/login")
	assert.Equal(t, http.StatusOK, res.status)
	assert.Contains(t, res.body, "Admin Panel")

	res = b.post("/admin/login", credentials("admin@example.com", "Rahasia123"))
	assert.Equal(t, http.StatusSeeOther, res.status)
	assert.Equal(t, "/admin/users", res.location)
	assert.NotContains(t, b.cookies, "rejected_route")

	res = b.get("/admin/users")
	assert.Equal(t, http.StatusOK, res.status)
	assert.Contains(t, res.body, "Pengguna")
}

func TestAdmin_LoginDefaultsToDashboard(t *testing.T) {
	f := newFixture(t)
	f.user(t, "admin@example.com", "Rahasia123", auth.RoleSuperAdmin)
	b := f.browser(t)

	res := b.post("/admin/login", credentials("admin@example.com", "Rahasia123"))
	assert.Equal(t, http.StatusSeeOther, res.status)
	assert.Equal(t, "/admin/dashboard", res.location)

	res = b.get("/admin/login")
	assert.Equal(t, http.StatusSeeOther, res.status)
	assert.Equal(t, "/admin/dashboard", res.location)

	res = b.get("/admin")
	assert.Equal(t, http.StatusSeeOther, res.status)
	assert.Equal(t, "/admin/dashboard", res.location)
}

func TestAdmin_ExpiredSessionIsRefreshed(t *testing.T) {
	f := newFixture(t)
	f.user(t, "admin@example.com", "Rahasia123", auth.RoleAdmin)
	b := f.browser(t)

	res := b.post("/admin/login", credentials("admin@example.com", "Rahasia123"))
	require.Equal(t, http.StatusSeeOther, res.status)

	f.clock.advance(2 * time.Hour)

	res = b.get("/admin/dashboard")
	assert.Equal(t, http.StatusOK, res.status)
}

func TestAdmin_RevokedSessionIsSignedOutOnExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "admin@example.com", "Rahasia123", auth.RoleAdmin)
	b := f.browser(t)

	res := b.post("/admin/login", credentials("admin@example.com", "Rahasia123"))
	require.Equal(t, http.StatusSeeOther, res.status)

	res = b.get("/admin/dashboard")
	require.Equal(t, http.StatusOK, res.status)

	profile, err := f.service.FindProfileByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	require.NoError(t, f.service.RevokeAll(ctx, profile.ID))

	res = b.get("/admin/dashboard")
	assert.Equal(t, http.StatusOK, res.status, "the access token is still valid")

	f.clock.advance(2 * time.Hour)

	res = b.get("/admin/dashboard")
	assert.Equal(t, http.StatusSeeOther, res.status)
	assert.Equal(t, "/admin/login", res.location)
}

func TestAdmin_NonAdminIsUnauthorized(t *testing.T) {
	f := newFixture(t)
	f.user(t, "agen@example.com", "Rahasia123", auth.RoleAgent)
	b := f.browser(t)

	res := b.post("/admin/login", credentials("agen@example.com", "Rahasia123"))
	assert.Equal(t, http.StatusSeeOther, res.status)
	assert.Equal(t, "/admin/unauthorized", res.location)

	res = b.get("/admin/settings")
	assert.Equal(t, http.StatusSeeOther, res.status)
	assert.Equal(t, "/admin/unauthorized", res.location)

	res = b.get("/admin/unauthorized")
	assert.Equal(t, http.StatusForbidden, res.status)
	assert.Contains(t, res.body, "Akses Ditolak")
}

func TestAdmin_FailedLoginShowsProviderMessage(t *testing.T) {
	f := newFixture(t)
	b := f.browser(t)

	res := b.post("/admin/login", credentials("nobody@example.com", "Rahasia123"))
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Contains(t, res.body, "Invalid login credentials")

	res = b.get("/admin/login")
	assert.Equal(t, http.StatusOK, res.status)
	assert.NotContains(t, res.body, "Invalid login credentials", "the error is cleared when the page is shown again")
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	form := func() url.Values {
		return url.Values{
			"name":             {"Siti Aminah"},
			"email":            {"siti@example.com"},
			"phone":            {"0812-3456-7890"},
			"password":         {"Rahasia123"},
			"confirm_password": {"Rahasia123"},
			"agree_terms":      {"true"},
		}
	}

	t.Run("password mismatch", func(t *testing.T) {
		v := form()
		v.Set("confirm_password", "Berbeda123")
		res := f.browser(t).post("/register", v)
		assert.Equal(t, http.StatusUnprocessableEntity, res.status)
		assert.Contains(t, res.body, "Password dan konfirmasi password tidak cocok")
	})

	t.Run("terms not accepted", func(t *testing.T) {
		v := form()
		v.Del("agree_terms")
		res := f.browser(t).post("/register", v)
		assert.Equal(t, http.StatusUnprocessableEntity, res.status)
		assert.Contains(t, res.body, "Anda harus menyetujui syarat dan ketentuan")
	})

	t.Run("creates the account and signs in", func(t *testing.T) {
		b := f.browser(t)
		res := b.post("/register", form())
		assert.Equal(t, http.StatusSeeOther, res.status)
		assert.Equal(t, "/", res.location)

		res = b.get("/")
		assert.Contains(t, res.body, "Siti Aminah")

		profile, err := f.service.FindProfileByEmail(context.Background(), "siti@example.com")
		require.NoError(t, err)
		assert.Equal(t, "+6281234567890", profile.Phone)
		assert.Equal(t, auth.RoleUser, profile.Role)
	})

	t.Run("duplicate email", func(t *testing.T) {
		res := f.browser(t).post("/register", form())
		assert.Equal(t, http.StatusUnprocessableEntity, res.status)
		assert.Contains(t, res.body, "User already registered")
	})
}

func TestPasswordRecovery(t *testing.T) {
	f := newFixture(t)
	f.user(t, "budi@example.com", "Rahasia123", auth.RoleUser)

	res := f.browser(t).post("/forgot-password", url.Values{"email": {"budi@example.com"}})
	assert.Equal(t, http.StatusOK, res.status)
	assert.Contains(t, res.body, "link reset password telah dikirim")

	link := f.mailer.link(t, "recovery:budi@example.com")
	assert.Equal(t, "/reset-password", link.Path)

	// the link is opened in a fresh browser
	b := f.browser(t)
	res = b.get(link.RequestURI())
	assert.Equal(t, http.StatusSeeOther, res.status)
	assert.Equal(t, "/reset-password", res.location)

	res = b.get("/reset-password")
	assert.Equal(t, http.StatusOK, res.status)
	assert.Contains(t, res.body, "Reset Password | Properti Pro")

	res = b.post("/reset-password", url.Values{"password": {"lemah"}, "confirm_password": {"lemah"}})
	assert.Equal(t, http.StatusUnprocessableEntity, res.status)
	assert.Contains(t, res.body, "Password minimal 8 karakter, Password harus mengandung huruf besar, Password harus mengandung angka")

	res = b.post("/reset-password", url.Values{"password": {"BaruSekali9"}, "confirm_password": {"BaruSekali9"}})
	assert.Equal(t, http.StatusOK, res.status)
	assert.Contains(t, res.body, "Password Berhasil Direset")

	res = f.browser(t).post("/login", credentials("budi@example.com", "BaruSekali9"))
	assert.Equal(t, http.StatusSeeOther, res.status)

	t.Run("link can not be reused", func(t *testing.T) {
		res := f.browser(t).get(link.RequestURI())
		assert.Equal(t, http.StatusBadRequest, res.status)
		assert.Contains(t, res.body, "Link Tidak Valid")
	})
}

func TestResetPassword_WithoutSessionIsInvalid(t *testing.T) {
	f := newFixture(t)
	b := f.browser(t)

	res := b.get("/reset-password")
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Contains(t, res.body, "Link Tidak Valid")

	res = b.post("/reset-password", url.Values{"password": {"BaruSekali9"}, "confirm_password": {"BaruSekali9"}})
	assert.Equal(t, http.StatusBadRequest, res.status)
}

func TestForgotPassword_UnknownEmailLooksTheSame(t *testing.T) {
	f := newFixture(t)

	res := f.browser(t).post("/forgot-password", url.Values{"email": {"tidak-ada@example.com"}})
	assert.Equal(t, http.StatusOK, res.status)
	assert.Contains(t, res.body, "link reset password telah dikirim")
}

func TestCSRF_RejectsFormWithoutToken(t *testing.T) {
	f := newFixture(t)

	app := web.New(config.Defaults(), f.registry, web.WithLogger(nopLogger{}))
	b := &browser{t: t, app: app, cookies: map[string]string{}}

	res := b.post("/login", credentials("budi@example.com", "Rahasia123"))
	assert.Equal(t, http.StatusForbidden, res.status)
	assert.Contains(t, res.body, "Sesi formulir kedaluwarsa")

	res = b.get("/login")
	assert.Equal(t, http.StatusOK, res.status)
	assert.Contains(t, res.body, `name="csrf"`)
}

func TestNotFoundRendersErrorPage(t *testing.T) {
	f := newFixture(t)

	res := f.browser(t).get("/tidak-ada")
	assert.Equal(t, http.StatusNotFound, res.status)
	assert.Contains(t, res.body, "Halaman tidak ditemukan")
}

func TestRichErrorsRenderWithTheirStatus(t *testing.T) {
	f := newFixture(t)
	f.app.Get("/gagal", func(c *fiber.Ctx) error {
		return auth.NewProviderError(http.StatusTooManyRequests, "over_request_rate_limit", "Terlalu banyak percobaan")
	})
	f.app.Get("/gagal-profil", func(c *fiber.Ctx) error {
		return fmt.Errorf("load profile: %w", auth.ErrProfileNotFound)
	})

	b := f.browser(t)

	res := b.get("/gagal")
	assert.Equal(t, http.StatusTooManyRequests, res.status)
	assert.Contains(t, res.body, "Terlalu banyak percobaan")

	res = b.get("/gagal-profil")
	assert.Equal(t, http.StatusNotFound, res.status)
	assert.Contains(t, res.body, "profile not found")
}

func TestAPIMe(t *testing.T) {
	f := newFixture(t)
	f.user(t, "agen@propertipro.id", "Rahasia123", auth.RoleAgent)

	client := f.service.NewClient(auth.NewMemorySessionStorage(), "api")
	session, err := client.SignInWithPassword(context.Background(), "agen@propertipro.id", "Rahasia123")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+session.AccessToken)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"email":"agen@propertipro.id"`)
	assert.Contains(t, string(body), `"id":"`+session.User.ID+`"`)
}

func TestAPIMeRejectsMissingToken(t *testing.T) {
	f := newFixture(t)

	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, "/api/me", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer not-a-token")
	resp, err = f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPIMeRole(t *testing.T) {
	f := newFixture(t)

	token, _, err := f.tokens.Generate(auth.SessionUser{
		ID:       "u-9",
		Email:    "admin@propertipro.id",
		Metadata: map[string]any{"role": "admin"},
	}, "sess-9")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"role":"admin"`)
	assert.Contains(t, string(body), `"session_id":"sess-9"`)
}
