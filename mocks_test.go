package auth_test

import (
	"context"
	"sync"

	"github.com/propertipro/go-auth"
	"github.com/stretchr/testify/mock"
)

// MockProvider implements auth.SessionProvider. Listeners registered through
// OnSessionChange are kept so tests can emit notifications.
type MockProvider struct {
	mock.Mock

	mu        sync.Mutex
	listeners map[int]auth.SessionListener
	nextID    int
}

func (m *MockProvider) SignUp(ctx context.Context, email, password string, attrs auth.SignUpAttributes) (*auth.Session, error) {
	args := m.Called(ctx, email, password, attrs)
	return sessionArg(args, 0), args.Error(1)
}

func (m *MockProvider) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	args := m.Called(ctx, email, password)
	return sessionArg(args, 0), args.Error(1)
}

func (m *MockProvider) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockProvider) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	args := m.Called(ctx, email, redirectTo)
	return args.Error(0)
}

func (m *MockProvider) UpdatePassword(ctx context.Context, password string) error {
	args := m.Called(ctx, password)
	return args.Error(0)
}

func (m *MockProvider) GetSession(ctx context.Context) (*auth.Session, error) {
	args := m.Called(ctx)
	return sessionArg(args, 0), args.Error(1)
}

func (m *MockProvider) RefreshSession(ctx context.Context) (*auth.Session, error) {
	args := m.Called(ctx)
	return sessionArg(args, 0), args.Error(1)
}

func (m *MockProvider) OnSessionChange(listener auth.SessionListener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listeners == nil {
		m.listeners = make(map[int]auth.SessionListener)
	}
	m.nextID++
	id := m.nextID
	m.listeners[id] = listener
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Emit delivers change to every registered listener synchronously
func (m *MockProvider) Emit(ctx context.Context, change auth.SessionChange) {
	m.mu.Lock()
	listeners := make([]auth.SessionListener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(ctx, change)
	}
}

func (m *MockProvider) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// MockProfiles implements auth.ProfileStore and auth.ProfileStatusStore
type MockProfiles struct {
	mock.Mock
}

func (m *MockProfiles) FindProfile(ctx context.Context, id string) (*auth.UserProfile, error) {
	args := m.Called(ctx, id)
	return profileArg(args, 0), args.Error(1)
}

func (m *MockProfiles) UpdateProfile(ctx context.Context, id string, update auth.ProfileUpdate) (*auth.UserProfile, error) {
	args := m.Called(ctx, id, update)
	return profileArg(args, 0), args.Error(1)
}

func (m *MockProfiles) UpdateStatus(ctx context.Context, id string, status auth.UserStatus) (*auth.UserProfile, error) {
	args := m.Called(ctx, id, status)
	return profileArg(args, 0), args.Error(1)
}

// MockConfig implements auth.Config and auth.GuardConfig
type MockConfig struct {
	SiteURL            string
	ResetPasswordRoute string
	SignInRoute        string
	UnauthorizedRoute  string
	RejectedRouteKey   string
}

func (c MockConfig) GetSiteURL() string            { return c.SiteURL }
func (c MockConfig) GetResetPasswordRoute() string { return c.ResetPasswordRoute }
func (c MockConfig) GetSignInRoute() string        { return c.SignInRoute }
func (c MockConfig) GetUnauthorizedRoute() string  { return c.UnauthorizedRoute }
func (c MockConfig) GetRejectedRouteKey() string   { return c.RejectedRouteKey }

// recordingSink collects activity events
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func sessionArg(args mock.Arguments, i int) *auth.Session {
	if v := args.Get(i); v != nil {
		return v.(*auth.Session)
	}
	return nil
}

func profileArg(args mock.Arguments, i int) *auth.UserProfile {
	if v := args.Get(i); v != nil {
		return v.(*auth.UserProfile)
	}
	return nil
}

func newSession(id, email, token string) *auth.Session {
	return &auth.Session{
		AccessToken:  token,
		RefreshToken: "refresh-" + token,
		TokenType:    "bearer",
		User: auth.SessionUser{
			ID:    id,
			Email: email,
		},
	}
}

func newProfile(id, name string, role auth.UserRole) *auth.UserProfile {
	return &auth.UserProfile{
		ID:       id,
		FullName: name,
		Role:     role,
		Status:   auth.UserStatusActive,
	}
}
