// Package web is the browser facing view layer: server rendered pages for
// the public site, the auth forms and the guarded admin panel.
package web

import (
	"embed"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/template/django/v3"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/propertipro/go-auth"
	"github.com/propertipro/go-auth/config"
	"github.com/propertipro/go-auth/metrics"
	"github.com/propertipro/go-auth/middleware/jwtware"
)

const msgCSRFExpired = "Sesi formulir kedaluwarsa. Silakan muat ulang halaman."

//go:embed views
var viewsFS embed.FS

// AdminPage is an entry of the admin navigation
type AdminPage struct {
	Path  string
	Label string
}

// AdminPages lists the guarded admin sections
var AdminPages = []AdminPage{
	{Path: "/admin/dashboard", Label: "Dashboard"},
	{Path: "/admin/users", Label: "Pengguna"},
	{Path: "/admin/properties", Label: "Properti"},
	{Path: "/admin/categories", Label: "Kategori"},
	{Path: "/admin/locations", Label: "Lokasi"},
	{Path: "/admin/reports", Label: "Laporan"},
	{Path: "/admin/moderation-history", Label: "Riwayat Moderasi"},
	{Path: "/admin/analytics", Label: "Analitik"},
	{Path: "/admin/settings", Label: "Pengaturan"},
}

// Option configures the web server
type Option func(*server)

// WithLogger sets the logger used by handlers
func WithLogger(logger auth.Logger) Option {
	return func(s *server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics mounts request metrics, guard decision counters and /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *server) {
		s.metrics = m
	}
}

// WithoutCSRF disables the csrf middleware. Meant for tests.
func WithoutCSRF() Option {
	return func(s *server) {
		s.csrf = false
	}
}

// WithTokenValidator mounts the bearer token API under /api
func WithTokenValidator(v auth.TokenValidator) Option {
	return func(s *server) {
		s.validator = v
	}
}

type server struct {
	cfg       *config.Config
	registry  *Registry
	logger    auth.Logger
	metrics   *metrics.Metrics
	validator auth.TokenValidator
	csrf      bool
}

// NewEngine returns the django engine over the embedded views
func NewEngine(reload bool) *django.Engine {
	engine := django.NewPathForwardingFileSystem(http.FS(viewsFS), "/views", ".django")
	engine.Reload(reload)
	return engine
}

// New builds the fiber application
func New(cfg *config.Config, registry *Registry, opts ...Option) *fiber.App {
	s := &server{
		cfg:      cfg,
		registry: registry,
		logger:   auth.DefaultLogger(),
		csrf:     true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		Views:                 NewEngine(cfg.App.Debug),
		ErrorHandler:          s.errorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if s.metrics != nil {
		app.Use(s.metrics.Middleware())
		app.Get("/metrics", s.metrics.Handler())
	}
	if s.csrf {
		app.Use(csrf.New(csrf.Config{
			KeyLookup:      "form:csrf",
			CookieName:     "pp_csrf",
			CookieSameSite: "Lax",
			CookieHTTPOnly: true,
			ContextKey:     auth.TemplateCSRFKey,
			Next: func(c *fiber.Ctx) bool {
				return strings.HasPrefix(c.Path(), "/api/")
			},
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				s.logger.Warn("csrf check failed", "path", c.Path(), "error", err)
				return fiber.NewError(fiber.StatusForbidden, msgCSRFExpired)
			},
		}))
	}

	guardOpts := []auth.RouteGuardOption{auth.WithRouteGuardLogger(s.logger)}
	if s.metrics != nil {
		guardOpts = append(guardOpts, auth.WithDecisionObserver(s.metrics.ObserveDecision))
	}

	public := auth.NewRouteGuard(registry.Resolve, cfg, guardOpts...)
	admin := auth.NewRouteGuard(registry.Resolve, cfg.AdminGuard(), guardOpts...)

	controller := NewAuthController(registry, public)
	controller.Debug = cfg.App.Debug
	controller.Logger = s.logger
	controller.Routes.Login = cfg.Auth.SignInRoute
	controller.Routes.AdminLogin = cfg.Auth.AdminSignInRoute
	controller.Routes.Unauthorized = cfg.Auth.UnauthorizedRoute
	controller.Routes.ResetPassword = cfg.Auth.ResetPasswordRoute
	controller.Routes.AdminHome = cfg.Auth.DefaultAdminRoute
	if cfg.Auth.RefreshExpiration > 0 {
		controller.RememberFor = cfg.Auth.RefreshExpiration
	}

	// auth pages go first so the admin sign in is not behind the admin guard
	controller.Register(app)

	withState := public.WithState()
	app.Get("/", withState, s.page("home", fiber.Map{"title": "Properti Pro"}))
	app.Get("/jual", withState, s.page("listing", fiber.Map{"title": "Jual | Properti Pro", "heading": "Properti Dijual"}))
	app.Get("/sewa", withState, s.page("listing", fiber.Map{"title": "Sewa | Properti Pro", "heading": "Properti Disewa"}))
	app.Get("/properti/:id", withState, s.property)

	protect := admin.ProtectedRoute(true)
	app.Get("/admin", protect, func(c *fiber.Ctx) error {
		return c.Redirect(cfg.Auth.DefaultAdminRoute, fiber.StatusSeeOther)
	})
	for _, p := range AdminPages {
		app.Get(p.Path, protect, s.adminPage(p))
	}

	if s.validator != nil {
		api := app.Group("/api", jwtware.New(jwtware.Config{Validator: s.validator}))
		api.Get("/me", s.apiMe)
	}

	if cfg.App.Debug {
		app.Get("/debug/auth", withState, s.debugState)
	}

	return app
}

func (s *server) page(view string, data fiber.Map) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Render(view, auth.TemplateHelpersWithFiber(c, data), "layout")
	}
}

func (s *server) property(c *fiber.Ctx) error {
	id := c.Params("id")
	return c.Render("property", auth.TemplateHelpersWithFiber(c, fiber.Map{
		"title":       fmt.Sprintf("Properti %s | Properti Pro", id),
		"property_id": id,
	}), "layout")
}

func (s *server) adminPage(p AdminPage) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Render("admin/page", auth.TemplateHelpersWithFiber(c, fiber.Map{
			"title":        p.Label + " | Admin Panel",
			"heading":      p.Label,
			"admin_nav":    AdminPages,
			"current_path": p.Path,
		}), "layout")
	}
}

type apiSession struct {
	ID        string        `json:"id"`
	Email     string        `json:"email"`
	Role      auth.UserRole `json:"role"`
	SessionID string        `json:"session_id,omitempty"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

func (s *server) apiMe(c *fiber.Ctx) error {
	claims, ok := jwtware.ClaimsFromContext(c.UserContext())
	if !ok {
		return fiber.ErrUnauthorized
	}

	out := apiSession{
		ID:        claims.UserID(),
		Email:     claims.Email,
		Role:      jwtware.RoleFromClaims(claims),
		SessionID: claims.SessionID,
	}
	if exp := claims.Expires(); !exp.IsZero() {
		out.ExpiresAt = &exp
	}
	return c.JSON(out)
}

func (s *server) debugState(c *fiber.Ctx) error {
	state, _ := auth.StateFromLocals(c)
	return c.Type("json").SendString(print.MaybePrettyJSON(state))
}

func (s *server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := msgGenericError

	var fe *fiber.Error
	var richErr *goerrors.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
		switch {
		case code == fiber.StatusNotFound:
			message = "Halaman tidak ditemukan"
		case code < fiber.StatusInternalServerError:
			message = fe.Message
		}
	case auth.IsProviderError(err), goerrors.As(err, &richErr):
		richErr = auth.AsRichError(err)
		if richErr.Code >= fiber.StatusBadRequest {
			code = richErr.Code
		}
		if code < fiber.StatusInternalServerError {
			message = auth.ErrorMessage(err)
		}
	}

	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}

	if rerr := c.Status(code).Render("error", auth.TemplateHelpersWithFiber(c, fiber.Map{
		"title":   "Terjadi Kesalahan | Properti Pro",
		"status":  code,
		"message": message,
	}), "layout"); rerr != nil {
		return c.Status(code).SendString(message)
	}
	return nil
}
