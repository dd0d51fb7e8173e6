package web

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/propertipro/go-auth"
)

// ClientFactory builds the provider client and profile store for one
// browser session. key identifies the session in the session storage.
type ClientFactory func(key string) (auth.SessionProvider, auth.ProfileStore)

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry logger
func WithRegistryLogger(logger auth.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithManagerOptions are passed to every Manager the registry creates
func WithManagerOptions(opts ...auth.ManagerOption) RegistryOption {
	return func(r *Registry) {
		r.managerOpts = append(r.managerOpts, opts...)
	}
}

// WithIdleTimeout sets how long an unused Manager is kept in memory. The
// stored session survives eviction.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.idle = d
		}
	}
}

// WithCookieName sets the browser session cookie name
func WithCookieName(name string) RegistryOption {
	return func(r *Registry) {
		if name != "" {
			r.cookie = name
		}
	}
}

// WithOnManager is called once for each new Manager, before Start
func WithOnManager(fn func(key string, m *auth.Manager)) RegistryOption {
	return func(r *Registry) {
		r.onManager = fn
	}
}

// WithSizeObserver receives the number of live managers after each change
func WithSizeObserver(fn func(n int)) RegistryOption {
	return func(r *Registry) {
		r.onSize = fn
	}
}

// WithRefreshMargin sets how long before expiry a cached session is
// refreshed
func WithRefreshMargin(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d >= 0 {
			r.margin = d
		}
	}
}

// WithRegistryClock overrides the clock used for idle tracking and session
// expiry
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry keeps one auth.Manager per browser session. The browser is
// identified by an opaque cookie; the Manager mirrors the provider session
// stored under that key. Managers drop their session when the provider
// rejects a refresh.
type Registry struct {
	factory     ClientFactory
	cfg         auth.Config
	managerOpts []auth.ManagerOption
	cookie      string
	idle        time.Duration
	margin      time.Duration
	logger      auth.Logger
	now         func() time.Time
	onManager   func(string, *auth.Manager)
	onSize      func(int)

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	manager  *auth.Manager
	provider auth.SessionProvider
	once     sync.Once
	lastSeen time.Time
	// refreshing serializes refreshes of an expired session
	refreshing sync.Mutex
}

// NewRegistry creates a Registry
func NewRegistry(factory ClientFactory, cfg auth.Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		factory:     factory,
		cfg:         cfg,
		managerOpts: []auth.ManagerOption{auth.WithSignOutOnRefreshFailure()},
		cookie:      "pp_sid",
		idle:        2 * time.Hour,
		margin:      10 * time.Second,
		logger:      auth.DefaultLogger(),
		now:         time.Now,
		entries:     make(map[string]*entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// CookieName returns the browser session cookie name
func (r *Registry) CookieName() string {
	return r.cookie
}

// Manager returns the started Manager for key, creating it when needed
func (r *Registry) Manager(ctx context.Context, key string) *auth.Manager {
	return r.entry(ctx, key).manager
}

func (r *Registry) entry(ctx context.Context, key string) *entry {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		provider, profiles := r.factory(key)
		e = &entry{
			manager:  auth.NewManager(provider, profiles, r.cfg, r.managerOpts...),
			provider: provider,
		}
		r.entries[key] = e
	}
	e.lastSeen = r.now()
	size := len(r.entries)
	r.mu.Unlock()

	if !ok {
		r.reportSize(size)
	}

	e.once.Do(func() {
		if r.onManager != nil {
			r.onManager(key, e.manager)
		}
		if err := e.manager.Start(ctx); err != nil {
			r.logger.Warn("auth manager start failed", "error", err)
		}
	})

	return e
}

// current returns the state of e, refreshing a session whose access token
// expired. An expired session that could not be refreshed is reported as
// signed out.
func (r *Registry) current(ctx context.Context, e *entry) auth.AuthState {
	state := e.manager.State()
	if state.Session == nil || !state.Session.IsExpired(r.now(), r.margin) {
		return state
	}

	e.refreshing.Lock()
	defer e.refreshing.Unlock()

	state = e.manager.State()
	if state.Session == nil || !state.Session.IsExpired(r.now(), r.margin) {
		return state
	}

	if err := e.manager.RefreshSession(ctx); err != nil {
		r.logger.Warn("expired session refresh failed", "user_id", state.UserID(), "error", err)
	}

	state = e.manager.State()
	if state.Session != nil && state.Session.IsExpired(r.now(), 0) {
		return auth.AuthState{Settled: true, Error: state.Error, Version: state.Version}
	}
	return state
}

// Provider returns the provider client backing the Manager for key
func (r *Registry) Provider(ctx context.Context, key string) auth.SessionProvider {
	r.Manager(ctx, key)

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return e.provider
	}
	return nil
}

// Key returns the browser session key of the request, issuing a cookie
// when the browser has none.
func (r *Registry) Key(c *fiber.Ctx) string {
	key := c.Cookies(r.cookie)
	if validKey(key) {
		return key
	}
	key = uuid.NewString()
	c.Cookie(&fiber.Cookie{
		Name:     r.cookie,
		Value:    key,
		Path:     "/",
		HTTPOnly: true,
		Secure:   c.Protocol() == "https",
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return key
}

// Ensure returns the Manager of the requesting browser, issuing a session
// cookie when the browser has none. An expired session is refreshed first.
func (r *Registry) Ensure(c *fiber.Ctx) *auth.Manager {
	e := r.entry(c.UserContext(), r.Key(c))
	r.current(c.UserContext(), e)
	return e.manager
}

// Resolve implements auth.StateResolver. Browsers without a session cookie
// are anonymous and do not allocate a Manager.
func (r *Registry) Resolve(c *fiber.Ctx) auth.AuthState {
	key := c.Cookies(r.cookie)
	if !validKey(key) {
		return auth.AuthState{Settled: true}
	}
	return r.current(c.UserContext(), r.entry(c.UserContext(), key))
}

// Forget closes and removes the Manager for key
func (r *Registry) Forget(key string) {
	r.mu.Lock()
	e, ok := r.entries[key]
	delete(r.entries, key)
	size := len(r.entries)
	r.mu.Unlock()

	if ok {
		e.manager.Close()
		r.reportSize(size)
	}
}

// Sweep closes managers idle for longer than the idle timeout and returns
// how many were evicted
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	var stale []*auth.Manager
	for key, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			stale = append(stale, e.manager)
			delete(r.entries, key)
		}
	}
	size := len(r.entries)
	r.mu.Unlock()

	for _, m := range stale {
		m.Close()
	}
	if len(stale) > 0 {
		r.logger.Debug("evicted idle auth managers", "count", len(stale))
		r.reportSize(size)
	}
	return len(stale)
}

// Run sweeps every interval until ctx is done
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Len returns the number of live managers
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close closes every Manager
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.manager.Close()
	}
	r.reportSize(0)
}

func (r *Registry) reportSize(n int) {
	if r.onSize != nil {
		r.onSize(n)
	}
}

func validKey(key string) bool {
	if key == "" {
		return false
	}
	_, err := uuid.Parse(key)
	return err == nil
}
