package auth

import (
	"context"
)

var stateCtxKey = &contextKey{"auth_state"}

type contextKey struct {
	name string
}

// WithStateContext sets the AuthState in the given context
func WithStateContext(ctx context.Context, state AuthState) context.Context {
	return context.WithValue(ctx, stateCtxKey, state)
}

// StateFromContext finds the AuthState in the context
func StateFromContext(ctx context.Context) (AuthState, bool) {
	if ctx == nil {
		return AuthState{}, false
	}
	raw, ok := ctx.Value(stateCtxKey).(AuthState)
	return raw, ok
}

// UserFromContext returns the signed in user, if any
func UserFromContext(ctx context.Context) (*User, bool) {
	state, ok := StateFromContext(ctx)
	if !ok || state.User == nil {
		return nil, false
	}
	return state.User, true
}

// Can checks whether the user in ctx holds at least minRole
func Can(ctx context.Context, minRole UserRole) bool {
	user, ok := UserFromContext(ctx)
	if !ok {
		return false
	}
	return user.IsActive() && user.Role.IsAtLeast(minRole)
}
