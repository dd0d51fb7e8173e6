package web

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/propertipro/go-auth"
)

type AuthControllerRoutes struct {
	Login          string
	Logout         string
	Register       string
	Confirm        string
	ForgotPassword string
	ResetPassword  string
	AdminLogin     string
	Unauthorized   string
	AdminHome      string
}

type AuthControllerViews struct {
	Login          string
	Register       string
	ForgotPassword string
	ResetPassword  string
	AdminLogin     string
	Unauthorized   string
	Error          string
}

const (
	resetStageForm    = "form"
	resetStageInvalid = "invalid"
	resetStageDone    = "done"
)

const (
	msgConfirmationSent = "Pendaftaran berhasil. Silakan cek email Anda untuk konfirmasi akun."
	msgConfirmFailed    = "Link konfirmasi tidak valid atau sudah kedaluwarsa."
)

// recoveryVerifier is implemented by provider clients that can exchange a
// recovery token from an email link for a session.
type recoveryVerifier interface {
	VerifyRecovery(ctx context.Context, token string) (*auth.Session, error)
}

// emailConfirmer is implemented by provider clients that confirm sign ups
// themselves.
type emailConfirmer interface {
	ConfirmEmail(ctx context.Context, token string) (*auth.Session, error)
}

// AuthController serves the sign in, sign up and password recovery pages
type AuthController struct {
	Debug    bool
	Logger   auth.Logger
	Registry *Registry
	Guard    *auth.RouteGuard
	Layout   string
	// RememberFor extends the browser session cookie when "Ingat saya" is checked
	RememberFor time.Duration
	Routes      *AuthControllerRoutes
	Views       *AuthControllerViews
}

func NewAuthController(registry *Registry, guard *auth.RouteGuard) *AuthController {
	return &AuthController{
		Logger:      auth.DefaultLogger(),
		Registry:    registry,
		Guard:       guard,
		Layout:      "layout",
		RememberFor: 30 * 24 * time.Hour,
		Routes: &AuthControllerRoutes{
			Login:          "/login",
			Logout:         "/logout",
			Register:       "/register",
			Confirm:        "/confirm",
			ForgotPassword: "/forgot-password",
			ResetPassword:  "/reset-password",
			AdminLogin:     "/admin/login",
			Unauthorized:   "/admin/unauthorized",
			AdminHome:      "/admin/dashboard",
		},
		Views: &AuthControllerViews{
			Login:          "login",
			Register:       "register",
			ForgotPassword: "forgot_password",
			ResetPassword:  "reset_password",
			AdminLogin:     "admin/login",
			Unauthorized:   "admin/unauthorized",
			Error:          "error",
		},
	}
}

// Register mounts the controller routes on router
func (a *AuthController) Register(router fiber.Router) {
	router.Get(a.Routes.Login, a.LoginShow)
	router.Post(a.Routes.Login, a.LoginPost)

	router.Post(a.Routes.Logout, a.LogOut)

	router.Get(a.Routes.Register, a.RegistrationShow)
	router.Post(a.Routes.Register, a.RegistrationCreate)
	router.Get(a.Routes.Confirm, a.ConfirmEmail)

	router.Get(a.Routes.ForgotPassword, a.ForgotPasswordShow)
	router.Post(a.Routes.ForgotPassword, a.ForgotPasswordPost)

	router.Get(a.Routes.ResetPassword, a.ResetPasswordShow)
	router.Post(a.Routes.ResetPassword, a.ResetPasswordPost)

	router.Get(a.Routes.AdminLogin, a.AdminLoginShow)
	router.Post(a.Routes.AdminLogin, a.AdminLoginPost)
	router.Get(a.Routes.Unauthorized, a.UnauthorizedShow)
}

func (a *AuthController) LoginShow(c *fiber.Ctx) error {
	m := a.Registry.Ensure(c)
	if m.State().IsAuthenticated {
		return c.Redirect(a.Guard.GetRedirect(c, "/"), fiber.StatusSeeOther)
	}

	return a.render(c, m, a.Views.Login, fiber.Map{
		"title":  "Masuk | Properti Pro",
		"errors": map[string]string{},
		"record": SignInPayload{},
	})
}

func (a *AuthController) LoginPost(c *fiber.Ctx) error {
	key := a.Registry.Key(c)
	m := a.Registry.Manager(c.UserContext(), key)
	payload := new(SignInPayload)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("login parse payload", "error", err)
		return a.render(c.Status(fiber.StatusBadRequest), m, a.Views.Login, fiber.Map{
			"title":  "Masuk | Properti Pro",
			"error":  msgGenericError,
			"errors": map[string]string{},
			"record": payload,
		})
	}

	if err := payload.Validate(); err != nil {
		fields := FieldErrors(err)
		return a.render(c.Status(fiber.StatusUnprocessableEntity), m, a.Views.Login, fiber.Map{
			"title":  "Masuk | Properti Pro",
			"error":  FirstError(fields, "email", "password"),
			"errors": fields,
			"record": payload,
		})
	}

	if err := m.SignIn(c.UserContext(), payload.Email, payload.Password); err != nil {
		return a.render(c.Status(fiber.StatusUnauthorized), m, a.Views.Login, fiber.Map{
			"title":  "Masuk | Properti Pro",
			"error":  a.errorMessage(err),
			"errors": map[string]string{},
			"record": SignInPayload{Email: payload.Email, Remember: payload.Remember},
		})
	}

	if payload.Remember {
		a.remember(c, key)
	}

	return c.Redirect(a.Guard.GetRedirect(c, "/"), fiber.StatusSeeOther)
}

func (a *AuthController) LogOut(c *fiber.Ctx) error {
	key := c.Cookies(a.Registry.CookieName())
	if !validKey(key) {
		return c.Redirect(a.Routes.Login, fiber.StatusSeeOther)
	}

	m := a.Registry.Manager(c.UserContext(), key)
	if err := m.SignOut(c.UserContext()); err != nil {
		a.Logger.Warn("sign out failed, clearing local session", "error", err)
		m.ForceSignOut(c.UserContext())
	}

	return c.Redirect(a.Routes.Login, fiber.StatusSeeOther)
}

func (a *AuthController) RegistrationShow(c *fiber.Ctx) error {
	m := a.Registry.Ensure(c)
	if m.State().IsAuthenticated {
		return c.Redirect("/", fiber.StatusSeeOther)
	}

	return a.render(c, m, a.Views.Register, fiber.Map{
		"title":  "Daftar | Properti Pro",
		"errors": map[string]string{},
		"record": RegisterPayload{},
	})
}

func (a *AuthController) RegistrationCreate(c *fiber.Ctx) error {
	m := a.Registry.Ensure(c)
	payload := new(RegisterPayload)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("register user parse payload", "error", err)
		return a.render(c.Status(fiber.StatusBadRequest), m, a.Views.Register, fiber.Map{
			"title":  "Daftar | Properti Pro",
			"error":  msgGenericError,
			"errors": map[string]string{},
			"record": payload,
		})
	}

	record := *payload
	record.Password, record.ConfirmPassword = "", ""

	if err := payload.Validate(); err != nil {
		fields := FieldErrors(err)
		return a.render(c.Status(fiber.StatusUnprocessableEntity), m, a.Views.Register, fiber.Map{
			"title":  "Daftar | Properti Pro",
			"error":  FirstError(fields, "name", "email", "phone", "password", "confirm_password", "agree_terms"),
			"errors": fields,
			"record": record,
		})
	}

	attrs := auth.SignUpAttributes{
		FullName: payload.FullName,
		Phone:    payload.NormalizedPhone(),
		Role:     auth.RoleUser,
	}

	if err := m.SignUp(c.UserContext(), payload.Email, payload.Password, attrs); err != nil {
		return a.render(c.Status(fiber.StatusUnprocessableEntity), m, a.Views.Register, fiber.Map{
			"title":  "Daftar | Properti Pro",
			"error":  a.errorMessage(err),
			"errors": map[string]string{},
			"record": record,
		})
	}

	if !m.State().IsAuthenticated {
		return a.render(c, m, a.Views.Register, fiber.Map{
			"title":   "Daftar | Properti Pro",
			"message": msgConfirmationSent,
			"errors":  map[string]string{},
			"record":  RegisterPayload{},
		})
	}

	return c.Redirect("/", fiber.StatusSeeOther)
}

// ConfirmEmail consumes a sign up confirmation link
func (a *AuthController) ConfirmEmail(c *fiber.Ctx) error {
	key := a.Registry.Key(c)
	m := a.Registry.Manager(c.UserContext(), key)

	token := c.Query("token")
	confirmer, ok := a.Registry.Provider(c.UserContext(), key).(emailConfirmer)
	if token == "" || !ok {
		return a.render(c.Status(fiber.StatusBadRequest), m, a.Views.Login, fiber.Map{
			"title":  "Masuk | Properti Pro",
			"error":  msgConfirmFailed,
			"errors": map[string]string{},
			"record": SignInPayload{},
		})
	}

	if _, err := confirmer.ConfirmEmail(c.UserContext(), token); err != nil {
		a.Logger.Warn("email confirmation failed", "error", err)
		return a.render(c.Status(fiber.StatusBadRequest), m, a.Views.Login, fiber.Map{
			"title":  "Masuk | Properti Pro",
			"error":  msgConfirmFailed,
			"errors": map[string]string{},
			"record": SignInPayload{},
		})
	}

	return c.Redirect("/", fiber.StatusSeeOther)
}

func (a *AuthController) ForgotPasswordShow(c *fiber.Ctx) error {
	return a.render(c, a.Registry.Ensure(c), a.Views.ForgotPassword, fiber.Map{
		"title":  "Lupa Password | Properti Pro",
		"errors": map[string]string{},
		"record": ForgotPasswordPayload{},
	})
}

func (a *AuthController) ForgotPasswordPost(c *fiber.Ctx) error {
	m := a.Registry.Ensure(c)
	payload := new(ForgotPasswordPayload)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("password reset parse payload", "error", err)
		return a.render(c.Status(fiber.StatusBadRequest), m, a.Views.ForgotPassword, fiber.Map{
			"title":  "Lupa Password | Properti Pro",
			"error":  msgGenericError,
			"errors": map[string]string{},
			"record": payload,
		})
	}

	if err := payload.Validate(); err != nil {
		fields := FieldErrors(err)
		return a.render(c.Status(fiber.StatusUnprocessableEntity), m, a.Views.ForgotPassword, fiber.Map{
			"title":  "Lupa Password | Properti Pro",
			"error":  FirstError(fields, "email"),
			"errors": fields,
			"record": payload,
		})
	}

	if err := m.ResetPassword(c.UserContext(), payload.Email); err != nil {
		return a.render(c.Status(fiber.StatusBadGateway), m, a.Views.ForgotPassword, fiber.Map{
			"title":  "Lupa Password | Properti Pro",
			"error":  a.errorMessage(err),
			"errors": map[string]string{},
			"record": payload,
		})
	}

	return a.render(c, m, a.Views.ForgotPassword, fiber.Map{
		"title":  "Lupa Password | Properti Pro",
		"sent":   true,
		"errors": map[string]string{},
		"record": payload,
	})
}

// ResetPasswordShow handles the link from the recovery email. A token in
// the query is exchanged for a session and the browser is redirected to
// drop it from the address bar. Without a session the link is invalid.
func (a *AuthController) ResetPasswordShow(c *fiber.Ctx) error {
	key := a.Registry.Key(c)
	m := a.Registry.Manager(c.UserContext(), key)

	token := c.Query("token_hash", c.Query("token"))
	if token != "" {
		verifier, ok := a.Registry.Provider(c.UserContext(), key).(recoveryVerifier)
		if !ok {
			a.Logger.Warn("provider can not verify recovery tokens")
			return a.resetInvalid(c, m)
		}
		if _, err := verifier.VerifyRecovery(c.UserContext(), token); err != nil {
			a.Logger.Warn("recovery token rejected", "error", err)
			return a.resetInvalid(c, m)
		}
		return c.Redirect(a.Routes.ResetPassword, fiber.StatusSeeOther)
	}

	if !m.State().IsAuthenticated {
		return a.resetInvalid(c, m)
	}

	return a.render(c, m, a.Views.ResetPassword, fiber.Map{
		"title":  "Reset Password | Properti Pro",
		"stage":  resetStageForm,
		"errors": map[string]string{},
	})
}

func (a *AuthController) ResetPasswordPost(c *fiber.Ctx) error {
	m := a.Registry.Ensure(c)
	if !m.State().IsAuthenticated {
		return a.resetInvalid(c, m)
	}

	payload := new(ResetPasswordPayload)
	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("password update parse payload", "error", err)
		return a.render(c.Status(fiber.StatusBadRequest), m, a.Views.ResetPassword, fiber.Map{
			"title":  "Reset Password | Properti Pro",
			"stage":  resetStageForm,
			"error":  msgGenericError,
			"errors": map[string]string{},
		})
	}

	if err := payload.Validate(); err != nil {
		fields := FieldErrors(err)
		return a.render(c.Status(fiber.StatusUnprocessableEntity), m, a.Views.ResetPassword, fiber.Map{
			"title":  "Reset Password | Properti Pro",
			"stage":  resetStageForm,
			"error":  FirstError(fields, "password", "confirm_password"),
			"errors": fields,
		})
	}

	if err := m.UpdatePassword(c.UserContext(), payload.Password); err != nil {
		return a.render(c.Status(fiber.StatusUnprocessableEntity), m, a.Views.ResetPassword, fiber.Map{
			"title":  "Reset Password | Properti Pro",
			"stage":  resetStageForm,
			"error":  a.errorMessage(err),
			"errors": map[string]string{},
		})
	}

	return a.render(c, m, a.Views.ResetPassword, fiber.Map{
		"title": "Password Berhasil Direset | Properti Pro",
		"stage": resetStageDone,
	})
}

// AdminLoginShow clears any stale error and sends signed in visitors on:
// admins to the page they asked for, everyone else to the unauthorized page.
func (a *AuthController) AdminLoginShow(c *fiber.Ctx) error {
	m := a.Registry.Ensure(c)
	m.ClearError()

	if state := m.State(); state.IsAuthenticated {
		return a.adminRedirect(c, state)
	}

	return a.render(c, m, a.Views.AdminLogin, fiber.Map{
		"title":  "Admin Login | Properti Pro",
		"errors": map[string]string{},
		"record": SignInPayload{},
	})
}

func (a *AuthController) AdminLoginPost(c *fiber.Ctx) error {
	m := a.Registry.Ensure(c)
	payload := new(SignInPayload)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("admin login parse payload", "error", err)
		return a.render(c.Status(fiber.StatusBadRequest), m, a.Views.AdminLogin, fiber.Map{
			"title":  "Admin Login | Properti Pro",
			"error":  msgGenericError,
			"errors": map[string]string{},
			"record": payload,
		})
	}

	if err := payload.Validate(); err != nil {
		fields := FieldErrors(err)
		return a.render(c.Status(fiber.StatusUnprocessableEntity), m, a.Views.AdminLogin, fiber.Map{
			"title":  "Admin Login | Properti Pro",
			"error":  FirstError(fields, "email", "password"),
			"errors": fields,
			"record": payload,
		})
	}

	if err := m.SignIn(c.UserContext(), payload.Email, payload.Password); err != nil {
		return a.render(c.Status(fiber.StatusUnauthorized), m, a.Views.AdminLogin, fiber.Map{
			"title":  "Admin Login | Properti Pro",
			"error":  a.errorMessage(err),
			"errors": map[string]string{},
			"record": SignInPayload{Email: payload.Email},
		})
	}

	return a.adminRedirect(c, m.State())
}

func (a *AuthController) UnauthorizedShow(c *fiber.Ctx) error {
	state := a.Registry.Resolve(c)
	c.Locals(auth.LocalsStateKey, state)
	return c.Status(fiber.StatusForbidden).Render(a.Views.Unauthorized, auth.TemplateHelpersWithFiber(c, fiber.Map{
		"title": "Akses Ditolak | Properti Pro",
	}), a.Layout)
}

func (a *AuthController) adminRedirect(c *fiber.Ctx, state auth.AuthState) error {
	if !state.IsAdmin() {
		return c.Redirect(a.Routes.Unauthorized, fiber.StatusSeeOther)
	}
	return c.Redirect(a.Guard.GetRedirect(c, a.Routes.AdminHome), fiber.StatusSeeOther)
}

func (a *AuthController) resetInvalid(c *fiber.Ctx, m *auth.Manager) error {
	return a.render(c.Status(fiber.StatusBadRequest), m, a.Views.ResetPassword, fiber.Map{
		"title": "Link Tidak Valid | Properti Pro",
		"stage": resetStageInvalid,
	})
}

// remember turns the browser session cookie into a persistent one
func (a *AuthController) remember(c *fiber.Ctx, key string) {
	if a.RememberFor <= 0 {
		return
	}
	c.Cookie(&fiber.Cookie{
		Name:     a.Registry.CookieName(),
		Value:    key,
		Path:     "/",
		Expires:  time.Now().Add(a.RememberFor),
		HTTPOnly: true,
		Secure:   c.Protocol() == "https",
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (a *AuthController) errorMessage(err error) string {
	if auth.IsProviderError(err) {
		return auth.ErrorMessage(err)
	}
	return msgGenericError
}

func (a *AuthController) render(c *fiber.Ctx, m *auth.Manager, view string, data fiber.Map) error {
	if m != nil {
		c.Locals(auth.LocalsStateKey, m.State())
	}
	return c.Render(view, auth.TemplateHelpersWithFiber(c, data), a.Layout)
}
