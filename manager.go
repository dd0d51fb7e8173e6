package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger used by the Manager
func WithManagerLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerActivitySink sets the sink receiving auth activity events
func WithManagerActivitySink(sink ActivitySink) ManagerOption {
	return func(m *Manager) {
		m.activitySink = normalizeActivitySink(sink)
	}
}

// WithManagerClock overrides the clock used to stamp activity events
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSignOutOnRefreshFailure drops the local session when the provider
// rejects the refresh token as invalid or already used.
func WithSignOutOnRefreshFailure() ManagerOption {
	return func(m *Manager) {
		m.signOutOnRefreshFailure = true
	}
}

// Manager mirrors the provider session and the matching profile row as a
// sequence of immutable AuthState snapshots. Every mutation goes through
// dispatch, readers get a copy of the current snapshot.
type Manager struct {
	provider     SessionProvider
	profiles     ProfileStore
	cfg          Config
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time

	signOutOnRefreshFailure bool

	mu          sync.Mutex
	state       AuthState
	ticket      uint64
	committed   uint64
	subscribers map[uint64]func(AuthState)
	nextSubID   uint64
	unsubscribe func()
	started     bool
	closed      bool
}

// NewManager creates a Manager in the initial loading state. Call Start to
// load the persisted session and begin listening for provider changes.
func NewManager(provider SessionProvider, profiles ProfileStore, cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		provider:     provider,
		profiles:     profiles,
		cfg:          cfg,
		logger:       DefaultLogger(),
		activitySink: noopActivitySink{},
		now:          time.Now,
		state:        InitialState(),
		subscribers:  make(map[uint64]func(AuthState)),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// Start registers for provider notifications and derives the first state
// from the session the provider already holds.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrManagerStarted
	}
	m.started = true
	m.mu.Unlock()

	unsubscribe := m.provider.OnSessionChange(m.onSessionChange)

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	session, err := m.provider.GetSession(ctx)
	if err != nil {
		m.logger.Error("error getting initial session", "error", err)
		m.dispatch(setError{message: ErrorMessage(err)})
		return err
	}

	m.handleSessionChange(ctx, session)
	return nil
}

// Close stops listening for provider notifications and drops subscribers
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.subscribers = make(map[uint64]func(AuthState))
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// State returns the current snapshot
func (m *Manager) State() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Phase returns the coarse state, PhaseUninitialized before Start
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return PhaseUninitialized
	}
	return m.state.Phase()
}

// IsAdmin is true when the current user is admin or superadmin
func (m *Manager) IsAdmin() bool {
	return m.State().IsAdmin()
}

// IsSuperAdmin is true when the current user is superadmin
func (m *Manager) IsSuperAdmin() bool {
	return m.State().IsSuperAdmin()
}

// Subscribe registers fn to receive every new snapshot. Notifications are
// delivered outside the lock in transition order for a given writer.
func (m *Manager) Subscribe(fn func(AuthState)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.subscribers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
		})
	}
}

// WaitSettled blocks until the state is no longer loading or ctx is done
func (m *Manager) WaitSettled(ctx context.Context) (AuthState, error) {
	ch := make(chan AuthState, 1)
	unsubscribe := m.Subscribe(func(s AuthState) {
		if s.Loading {
			return
		}
		select {
		case ch <- s:
		default:
		}
	})
	defer unsubscribe()

	if s := m.State(); !s.Loading {
		return s, nil
	}

	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return m.State(), ctx.Err()
	}
}

// SignUp creates an account. When the provider requires confirmation no
// session is issued and loading is cleared.
func (m *Manager) SignUp(ctx context.Context, email, password string, attrs SignUpAttributes) error {
	m.dispatch(beginOperation{})

	session, err := m.provider.SignUp(ctx, email, password, attrs)
	if err != nil {
		m.logger.Error("sign up error", "email", email, "error", err)
		m.dispatch(setError{message: ErrorMessage(err)})
		return err
	}

	if session == nil {
		m.dispatch(setLoading{loading: false})
	} else {
		m.handleSessionChange(ctx, session)
	}

	m.record(ctx, ActivityEventSignUp, session.GetUserID(), map[string]any{
		"email":     email,
		"confirmed": session != nil,
		"role":      attrs.Metadata()["role"],
	})

	return nil
}

// SignIn authenticates with email and password. A failure drops the state
// to unauthenticated with the provider message.
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	m.dispatch(beginOperation{})

	session, err := m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		message := ErrorMessage(err)
		m.logger.Error("sign in error", "email", email, "error", err)
		m.commit(m.nextTicket(), dropSession{message: message})
		m.record(ctx, ActivityEventSignInFailure, "", map[string]any{
			"email": email,
			"error": message,
		})
		return err
	}

	m.handleSessionChange(ctx, session)
	m.record(ctx, ActivityEventSignInSuccess, session.GetUserID(), map[string]any{
		"email": email,
	})

	return nil
}

// SignOut ends the provider session. On provider failure the current state
// is kept with the error attached; use ForceSignOut to clear it anyway.
func (m *Manager) SignOut(ctx context.Context) error {
	userID := m.State().UserID()
	m.dispatch(setLoading{loading: true})

	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.Error("sign out error", "error", err)
		m.dispatch(setError{message: ErrorMessage(err)})
		return err
	}

	m.handleSessionChange(ctx, nil)
	m.record(ctx, ActivityEventSignOut, userID, nil)
	return nil
}

// ForceSignOut clears the local session without calling the provider
func (m *Manager) ForceSignOut(ctx context.Context) {
	userID := m.State().UserID()
	m.handleSessionChange(ctx, nil)
	m.record(ctx, ActivityEventSignOut, userID, map[string]any{"forced": true})
}

// ResetPassword asks the provider to email a recovery link pointing at the
// configured reset route.
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	m.dispatch(clearError{})

	if err := m.provider.ResetPasswordForEmail(ctx, email, m.recoveryRedirect()); err != nil {
		m.logger.Error("reset password error", "email", email, "error", err)
		m.dispatch(setError{message: ErrorMessage(err)})
		return err
	}

	m.record(ctx, ActivityEventPasswordResetRequest, "", map[string]any{"email": email})
	return nil
}

// UpdatePassword changes the password of the session holder
func (m *Manager) UpdatePassword(ctx context.Context, password string) error {
	m.dispatch(clearError{})

	if err := m.provider.UpdatePassword(ctx, password); err != nil {
		m.logger.Error("update password error", "error", err)
		m.dispatch(setError{message: ErrorMessage(err)})
		return err
	}

	m.record(ctx, ActivityEventPasswordUpdated, m.State().UserID(), nil)
	return nil
}

// UpdateProfile writes the partial update to the current user's row and
// merges the returned row into the state. It fails with ErrNoUser without
// touching the state when nobody is signed in.
func (m *Manager) UpdateProfile(ctx context.Context, update ProfileUpdate) error {
	current := m.State()
	if current.User == nil {
		return ErrNoUser
	}

	m.dispatch(clearError{})

	row, err := m.profiles.UpdateProfile(ctx, current.User.ID, update)
	if err != nil {
		m.logger.Error("update profile error", "user_id", current.User.ID, "error", err)
		m.dispatch(setError{message: ErrorMessage(err)})
		return err
	}

	m.dispatch(mergeProfile{row: row})
	m.record(ctx, ActivityEventProfileUpdated, current.User.ID, map[string]any{
		"columns": update.Columns(),
	})

	return nil
}

// RefreshSession asks the provider for a fresh token bundle
func (m *Manager) RefreshSession(ctx context.Context) error {
	userID := m.State().UserID()

	session, err := m.provider.RefreshSession(ctx)
	if err != nil {
		message := ErrorMessage(err)
		m.logger.Error("refresh session error", "user_id", userID, "error", err)

		if m.signOutOnRefreshFailure && IsInvalidRefreshToken(err) {
			m.commit(m.nextTicket(), dropSession{message: message})
		} else {
			m.dispatch(setError{message: message})
		}

		m.record(ctx, ActivityEventSessionRefreshFailure, userID, map[string]any{"error": message})
		return err
	}

	m.handleSessionChange(ctx, session)
	m.record(ctx, ActivityEventSessionRefreshed, session.GetUserID(), nil)
	return nil
}

// ClearError removes the error overlay
func (m *Manager) ClearError() {
	m.dispatch(clearError{})
}

func (m *Manager) onSessionChange(ctx context.Context, change SessionChange) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	m.logger.Debug("auth state changed", "event", change.Event, "email", change.Session.GetEmail())
	m.handleSessionChange(ctx, change.Session)
}

// handleSessionChange derives the next state from a session value. The
// ticket is taken when the session value is known so a slower profile
// fetch for an older session can not overwrite a newer one.
func (m *Manager) handleSessionChange(ctx context.Context, session *Session) AuthState {
	ticket := m.nextTicket()
	session = session.Clone()

	var user *User
	if session != nil && session.GetUserID() != "" {
		user = m.fetchUser(ctx, session)
	}

	state, _ := m.commit(ticket, setSession{session: session, user: user})
	return state
}

func (m *Manager) fetchUser(ctx context.Context, session *Session) *User {
	id := session.GetUserID()

	profile, err := m.profiles.FindProfile(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			m.logger.Warn("no profile row for session subject", "user_id", id)
			m.record(ctx, ActivityEventProfileMissing, id, nil)
		} else {
			m.logger.Error("error fetching user profile", "user_id", id, "error", err)
		}
		return nil
	}

	if profile == nil {
		m.logger.Warn("empty profile row for session subject", "user_id", id)
		return nil
	}

	return NewUser(profile, session.GetEmail())
}

func (m *Manager) nextTicket() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticket++
	return m.ticket
}

// commit applies a when ticket is not older than the last committed one
func (m *Manager) commit(ticket uint64, a action) (AuthState, bool) {
	m.mu.Lock()
	if ticket < m.committed {
		state, committed := m.state, m.committed
		m.mu.Unlock()
		m.logger.Debug("discarding stale derivation", "ticket", ticket, "committed", committed, "action", a.name())
		return state, false
	}
	m.committed = ticket
	state, subs, changed := m.applyLocked(a)
	m.mu.Unlock()

	if changed {
		notify(subs, state)
	}
	return state, true
}

func (m *Manager) dispatch(a action) AuthState {
	m.mu.Lock()
	state, subs, changed := m.applyLocked(a)
	m.mu.Unlock()

	if changed {
		notify(subs, state)
	}
	return state
}

func (m *Manager) applyLocked(a action) (AuthState, []func(AuthState), bool) {
	prev := m.state
	next := reduce(prev, a)
	if next.sameAs(prev) {
		return prev, nil, false
	}

	next.Version = prev.Version + 1
	m.state = next

	subs := make([]func(AuthState), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	return next, subs, true
}

func notify(subs []func(AuthState), state AuthState) {
	for _, fn := range subs {
		fn(state)
	}
}

func (m *Manager) recoveryRedirect() string {
	route := "/reset-password"
	site := ""
	if m.cfg != nil {
		if r := m.cfg.GetResetPasswordRoute(); r != "" {
			route = r
		}
		site = m.cfg.GetSiteURL()
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return strings.TrimRight(site, "/") + route
}

func (m *Manager) record(ctx context.Context, eventType ActivityEventType, userID string, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Actor:      ActorRef{ID: userID, Type: "user"},
		UserID:     userID,
		Metadata:   metadata,
		OccurredAt: m.now(),
	}
	if userID == "" {
		event.Actor.Type = "anonymous"
	}

	if err := m.activitySink.Record(ctx, event); err != nil {
		m.logger.Warn("activity sink error", "event", eventType, "error", err)
	}
}
