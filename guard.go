package auth

// DecisionKind is the outcome of a guard check
type DecisionKind int

const (
	// DecisionRender lets the protected subtree render
	DecisionRender DecisionKind = iota
	// DecisionPlaceholder renders a loading placeholder while the state settles
	DecisionPlaceholder
	// DecisionRedirect sends the navigation elsewhere
	DecisionRedirect
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionRender:
		return "render"
	case DecisionPlaceholder:
		return "placeholder"
	case DecisionRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Decision is what the guard tells the view layer to do. ReturnTo is the
// requested path to come back to after signing in, only set when the
// redirect goes to the sign-in route.
type Decision struct {
	Kind     DecisionKind
	Location string
	ReturnTo string
}

const (
	DefaultSignInRoute       = "/login"
	DefaultUnauthorizedRoute = "/admin/unauthorized"
	DefaultRejectedRouteKey  = "rejected_route"
)

// Guard decides whether a protected subtree may render for a snapshot
type Guard struct {
	RequireAdmin      bool
	SignInRoute       string
	UnauthorizedRoute string
}

// NewGuard builds a Guard from the configured routes
func NewGuard(cfg GuardConfig, requireAdmin bool) Guard {
	g := Guard{
		RequireAdmin:      requireAdmin,
		SignInRoute:       DefaultSignInRoute,
		UnauthorizedRoute: DefaultUnauthorizedRoute,
	}

	if cfg != nil {
		if r := cfg.GetSignInRoute(); r != "" {
			g.SignInRoute = r
		}
		if r := cfg.GetUnauthorizedRoute(); r != "" {
			g.UnauthorizedRoute = r
		}
	}

	return g
}

// Decide is a pure function of the snapshot and the requested path
func (g Guard) Decide(state AuthState, path string) Decision {
	if state.Loading {
		return Decision{Kind: DecisionPlaceholder}
	}

	if !state.IsAuthenticated {
		return Decision{
			Kind:     DecisionRedirect,
			Location: g.signInRoute(),
			ReturnTo: path,
		}
	}

	if g.RequireAdmin && !state.IsAdmin() {
		return Decision{
			Kind:     DecisionRedirect,
			Location: g.unauthorizedRoute(),
		}
	}

	return Decision{Kind: DecisionRender}
}

func (g Guard) signInRoute() string {
	if g.SignInRoute == "" {
		return DefaultSignInRoute
	}
	return g.SignInRoute
}

func (g Guard) unauthorizedRoute() string {
	if g.UnauthorizedRoute == "" {
		return DefaultUnauthorizedRoute
	}
	return g.UnauthorizedRoute
}
