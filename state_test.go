package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReduceKeepsAuthenticationInvariant(t *testing.T) {
	session := &Session{AccessToken: "tok", User: SessionUser{ID: "u-1", Email: "budi@propertipro.id"}}
	user := NewUser(&UserProfile{ID: "u-1", Role: RoleAdmin}, session.GetEmail())

	actions := []action{
		setSession{session: session, user: user},
		beginOperation{},
		setError{message: "boom"},
		clearError{},
		setSession{session: nil, user: user},
		dropSession{message: "Invalid login credentials"},
		setSession{session: session},
		mergeProfile{row: &UserProfile{ID: "u-1", FullName: "Budi"}},
	}

	state := InitialState()
	for _, a := range actions {
		state = reduce(state, a)
		assert.Equal(t, state.Session != nil, state.IsAuthenticated, a.name())
		if state.User != nil {
			assert.NotNil(t, state.Session, a.name())
		}
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	session := &Session{AccessToken: "tok", User: SessionUser{ID: "u-1"}}
	user := NewUser(&UserProfile{ID: "u-1", FullName: "Budi"}, "budi@propertipro.id")
	prev := AuthState{Session: session, User: user, IsAuthenticated: true}

	next := reduce(prev, mergeProfile{row: &UserProfile{ID: "u-1", FullName: "Budi Santoso"}})

	assert.Equal(t, "Budi", prev.User.FullName)
	assert.Equal(t, "Budi Santoso", next.User.FullName)
	assert.Equal(t, "budi@propertipro.id", next.User.Email)
}

func TestReduceMergeIgnoresOtherSubject(t *testing.T) {
	user := NewUser(&UserProfile{ID: "u-1", FullName: "Budi"}, "budi@propertipro.id")
	prev := AuthState{Session: &Session{User: SessionUser{ID: "u-1"}}, User: user, IsAuthenticated: true}

	next := reduce(prev, mergeProfile{row: &UserProfile{ID: "u-2", FullName: "Lain"}})
	assert.Equal(t, "Budi", next.User.FullName)
}

func TestReduceSettled(t *testing.T) {
	state := InitialState()
	assert.False(t, state.Settled)

	state = reduce(state, setLoading{loading: false})
	assert.True(t, state.Settled)

	state = reduce(state, beginOperation{})
	assert.True(t, state.Loading)
	assert.True(t, state.Settled)
}

func TestAuthStatePhase(t *testing.T) {
	assert.Equal(t, PhaseLoading, InitialState().Phase())
	assert.Equal(t, PhaseUnauthenticated, AuthState{}.Phase())
	assert.Equal(t, PhaseAuthenticated, AuthState{Session: &Session{}, IsAuthenticated: true}.Phase())
}

func TestAuthStateRolePredicates(t *testing.T) {
	tests := []struct {
		role       UserRole
		admin      bool
		superAdmin bool
	}{
		{RoleUser, false, false},
		{RoleAgent, false, false},
		{RoleAdmin, true, false},
		{RoleSuperAdmin, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			state := AuthState{
				Session:         &Session{User: SessionUser{ID: "u-1"}},
				User:            NewUser(&UserProfile{ID: "u-1", Role: tt.role}, ""),
				IsAuthenticated: true,
			}
			assert.Equal(t, tt.admin, state.IsAdmin())
			assert.Equal(t, tt.superAdmin, state.IsSuperAdmin())
		})
	}

	nobody := AuthState{Session: &Session{}, IsAuthenticated: true}
	assert.False(t, nobody.IsAdmin())
	assert.False(t, nobody.IsSuperAdmin())
}

func TestRoleHierarchy(t *testing.T) {
	assert.True(t, RoleSuperAdmin.IsAtLeast(RoleAdmin))
	assert.True(t, RoleAgent.IsAtLeast(RoleUser))
	assert.False(t, RoleAgent.IsAtLeast(RoleAdmin))
	assert.False(t, UserRole("guest").IsAtLeast(RoleUser))

	role, ok := ParseRole("agent")
	assert.True(t, ok)
	assert.Equal(t, RoleAgent, role)

	_, ok = ParseRole("owner")
	assert.False(t, ok)
}
