package auth

import (
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// LocalsStateKey is the fiber Locals key holding the request's AuthState
const LocalsStateKey = "auth_state"

// StateResolver returns the snapshot that applies to a request
type StateResolver func(c *fiber.Ctx) AuthState

// FromSource resolves every request to the same StateSource
func FromSource(source StateSource) StateResolver {
	return func(*fiber.Ctx) AuthState {
		return source.State()
	}
}

// RouteGuard wires a Guard and a StateResolver into fiber handlers
type RouteGuard struct {
	resolve            StateResolver
	cfg                GuardConfig
	redirectCookieTTL  time.Duration
	Logger             Logger
	PlaceholderHandler fiber.Handler
	observe            func(Decision, bool)
}

// RouteGuardOption configures a RouteGuard
type RouteGuardOption func(*RouteGuard)

// WithRouteGuardLogger sets the guard logger
func WithRouteGuardLogger(logger Logger) RouteGuardOption {
	return func(rg *RouteGuard) {
		if logger != nil {
			rg.Logger = logger
		}
	}
}

// WithPlaceholderHandler replaces the handler used while the state loads
func WithPlaceholderHandler(h fiber.Handler) RouteGuardOption {
	return func(rg *RouteGuard) {
		if h != nil {
			rg.PlaceholderHandler = h
		}
	}
}

// WithDecisionObserver is called with every guard decision and whether the
// route requires an admin
func WithDecisionObserver(fn func(d Decision, requireAdmin bool)) RouteGuardOption {
	return func(rg *RouteGuard) {
		rg.observe = fn
	}
}

// WithRedirectCookieTTL sets how long the requested path is remembered
func WithRedirectCookieTTL(ttl time.Duration) RouteGuardOption {
	return func(rg *RouteGuard) {
		if ttl > 0 {
			rg.redirectCookieTTL = ttl
		}
	}
}

// NewRouteGuard creates a RouteGuard reading snapshots through resolve
func NewRouteGuard(resolve StateResolver, cfg GuardConfig, opts ...RouteGuardOption) *RouteGuard {
	rg := &RouteGuard{
		resolve:            resolve,
		cfg:                cfg,
		redirectCookieTTL:  5 * time.Minute,
		Logger:             defLogger{},
		PlaceholderHandler: defaultPlaceholder,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(rg)
		}
	}

	return rg
}

// WithState stores the current snapshot in Locals and in the user context
// without enforcing anything. Public pages use it to render navigation.
func (rg *RouteGuard) WithState() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rg.attach(c, rg.resolve(c))
		return c.Next()
	}
}

// ProtectedRoute returns a middleware enforcing the guard decision
func (rg *RouteGuard) ProtectedRoute(requireAdmin bool) fiber.Handler {
	guard := NewGuard(rg.cfg, requireAdmin)

	return func(c *fiber.Ctx) error {
		state := rg.resolve(c)
		decision := guard.Decide(state, c.OriginalURL())
		if rg.observe != nil {
			rg.observe(decision, requireAdmin)
		}

		switch decision.Kind {
		case DecisionPlaceholder:
			return rg.PlaceholderHandler(c)
		case DecisionRedirect:
			if decision.ReturnTo != "" {
				rg.SetRedirect(c, decision.ReturnTo)
			}
			rg.Logger.Info("route guard redirect", "path", c.Path(), "location", decision.Location)
			return c.Redirect(decision.Location, fiber.StatusSeeOther)
		}

		rg.attach(c, state)
		return c.Next()
	}
}

// GetRedirect returns and clears the stored path, falling back to def
func (rg *RouteGuard) GetRedirect(c *fiber.Ctx, def string) string {
	key := rg.rejectedRouteKey()
	r := c.Cookies(key)
	if r == "" {
		return def
	}
	rg.cookieDel(c, key)

	if !isLocalPath(r) {
		rg.Logger.Warn("ignoring non local redirect", "value", r)
		return def
	}
	return r
}

// SetRedirect remembers path so sign-in can return to it
func (rg *RouteGuard) SetRedirect(c *fiber.Ctx, path string) {
	if !isLocalPath(path) {
		return
	}

	key := rg.rejectedRouteKey()
	rg.Logger.Debug("setting redirect cookie", "key", key, "path", path)

	c.Cookie(&fiber.Cookie{
		Name:     key,
		Value:    path,
		Path:     "/",
		Expires:  time.Now().Add(rg.redirectCookieTTL),
		HTTPOnly: true,
		Secure:   c.Protocol() == "https",
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (rg *RouteGuard) attach(c *fiber.Ctx, state AuthState) {
	c.Locals(LocalsStateKey, state)
	c.SetUserContext(WithStateContext(c.UserContext(), state))
}

func (rg *RouteGuard) rejectedRouteKey() string {
	if rg.cfg != nil {
		if k := rg.cfg.GetRejectedRouteKey(); k != "" {
			return k
		}
	}
	return DefaultRejectedRouteKey
}

func (rg *RouteGuard) cookieDel(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// StateFromLocals returns the snapshot attached by the guard
func StateFromLocals(c *fiber.Ctx) (AuthState, bool) {
	state, ok := c.Locals(LocalsStateKey).(AuthState)
	return state, ok
}

func defaultPlaceholder(c *fiber.Ctx) error {
	c.Set("Refresh", "1")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Status(fiber.StatusServiceUnavailable).SendString("Memuat...")
}

func isLocalPath(p string) bool {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.Contains(p, "\\") {
		return false
	}
	u, err := url.Parse(p)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}
