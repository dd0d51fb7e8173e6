package auth

// Phase is the coarse state of the auth mirror
type Phase string

const (
	PhaseUninitialized   Phase = "uninitialized"
	PhaseLoading         Phase = "loading"
	PhaseAuthenticated   Phase = "authenticated"
	PhaseUnauthenticated Phase = "unauthenticated"
)

// AuthState is an immutable snapshot of who is signed in.
// IsAuthenticated is true iff Session is not nil and User is only set
// together with a Session. Session and User must not be mutated by readers.
type AuthState struct {
	Session         *Session
	User            *User
	IsAuthenticated bool
	Loading         bool
	Error           string
	// Settled becomes true the first time Loading turns false.
	Settled bool
	// Version increases on every applied transition.
	Version uint64
}

// InitialState is the state at application start
func InitialState() AuthState {
	return AuthState{Loading: true}
}

// Phase derives the coarse state from the snapshot. PhaseUninitialized is
// only reported by Manager.Phase before Start.
func (s AuthState) Phase() Phase {
	switch {
	case s.Loading:
		return PhaseLoading
	case s.IsAuthenticated:
		return PhaseAuthenticated
	default:
		return PhaseUnauthenticated
	}
}

// HasError returns true when an error overlays the state
func (s AuthState) HasError() bool {
	return s.Error != ""
}

// IsAdmin is true for admin and superadmin users
func (s AuthState) IsAdmin() bool {
	return s.User != nil && s.User.Role.IsAdmin()
}

// IsSuperAdmin is true only for superadmin users
func (s AuthState) IsSuperAdmin() bool {
	return s.User != nil && s.User.Role.IsSuperAdmin()
}

// UserID returns the subject of the current session
func (s AuthState) UserID() string {
	return s.Session.GetUserID()
}

func (s AuthState) sameAs(o AuthState) bool {
	return s.Session.Equal(o.Session) &&
		s.User.Equal(o.User) &&
		s.IsAuthenticated == o.IsAuthenticated &&
		s.Loading == o.Loading &&
		s.Error == o.Error &&
		s.Settled == o.Settled
}

// action is a transition message applied by reduce.
type action interface {
	name() string
}

type setLoading struct {
	loading bool
}

type setSession struct {
	session *Session
	user    *User
}

type setError struct {
	message string
}

type clearError struct{}

// beginOperation marks an operation in flight and clears the previous error.
type beginOperation struct{}

// dropSession falls back to unauthenticated and records the provider message.
type dropSession struct {
	message string
}

// mergeProfile applies an updated profile row to the current user.
type mergeProfile struct {
	row *UserProfile
}

func (setLoading) name() string     { return "set_loading" }
func (setSession) name() string     { return "set_session" }
func (setError) name() string       { return "set_error" }
func (clearError) name() string     { return "clear_error" }
func (beginOperation) name() string { return "begin_operation" }
func (dropSession) name() string    { return "drop_session" }
func (mergeProfile) name() string   { return "merge_profile" }

// reduce returns the snapshot produced by applying a to s. It never mutates
// s or the values it points to.
func reduce(s AuthState, a action) AuthState {
	next := s

	switch act := a.(type) {
	case setLoading:
		next.Loading = act.loading
	case setSession:
		next.Session = act.session
		next.User = act.user
		if act.session == nil {
			next.User = nil
		}
		next.IsAuthenticated = act.session != nil
		next.Loading = false
		next.Error = ""
	case setError:
		next.Error = act.message
		next.Loading = false
	case clearError:
		next.Error = ""
	case beginOperation:
		next.Loading = true
		next.Error = ""
	case dropSession:
		next.Session = nil
		next.User = nil
		next.IsAuthenticated = false
		next.Loading = false
		next.Error = act.message
	case mergeProfile:
		if s.User != nil && act.row != nil && (act.row.ID == "" || act.row.ID == s.User.ID) {
			next.User = s.User.Merge(act.row)
		}
		next.Loading = false
		next.Error = ""
	default:
		return s
	}

	if !next.Loading {
		next.Settled = true
	}

	return next
}
