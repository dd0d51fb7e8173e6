package auth

import (
	"context"
	"fmt"
	"strings"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// SessionProvider is the managed identity provider. It owns credentials and
// session tokens; the Manager only mirrors what it reports.
type SessionProvider interface {
	// SignUp creates an account. A nil session with a nil error means the
	// provider requires confirmation before issuing a session.
	SignUp(ctx context.Context, email, password string, attrs SignUpAttributes) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	UpdatePassword(ctx context.Context, password string) error
	GetSession(ctx context.Context) (*Session, error)
	RefreshSession(ctx context.Context) (*Session, error)
	// OnSessionChange registers listener and returns the function that
	// removes it.
	OnSessionChange(listener SessionListener) (unsubscribe func())
}

// ProfileStore is the row table holding profile attributes keyed by the
// session subject identifier.
type ProfileStore interface {
	FindProfile(ctx context.Context, id string) (*UserProfile, error)
	UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (*UserProfile, error)
}

// Config holds the options the Manager needs from the application.
type Config interface {
	GetSiteURL() string
	GetResetPasswordRoute() string
}

// GuardConfig holds the routes used by the route guard.
type GuardConfig interface {
	GetSignInRoute() string
	GetUnauthorizedRoute() string
	GetRejectedRouteKey() string
}

// StateSource exposes the current auth snapshot. Manager implements it.
type StateSource interface {
	State() AuthState
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Print(formatLine("[ERR] AUTH ", format, args...))
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Print(formatLine("[WRN] AUTH ", format, args...))
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Print(formatLine("[INF] AUTH ", format, args...))
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Print(formatLine("[DBG] AUTH ", format, args...))
}

// DefaultLogger returns the printf backed logger used when none is given.
func DefaultLogger() Logger {
	return defLogger{}
}

// formatLine supports both printf verbs and trailing key/value pairs.
func formatLine(prefix, format string, args ...any) string {
	verbs := strings.Count(format, "%") - 2*strings.Count(format, "%%")
	if verbs < 0 {
		verbs = 0
	}
	if verbs > len(args) {
		verbs = len(args)
	}

	line := prefix + fmt.Sprintf(format, args[:verbs]...)

	rest := args[verbs:]
	for i := 0; i < len(rest); i += 2 {
		if i+1 < len(rest) {
			line += fmt.Sprintf(" %v=%v", rest[i], rest[i+1])
		} else {
			line += fmt.Sprintf(" %v", rest[i])
		}
	}

	return newline(line)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
