// Package auth mirrors a managed identity provider session and the matching
// profile row into observable, immutable state for the Properti Pro client.
//
// Auth state:
//   - Manager owns the only mutation path. Operations (SignUp, SignIn,
//     SignOut, ResetPassword, UpdatePassword, UpdateProfile, RefreshSession,
//     ClearError) dispatch typed actions that are reduced into a new
//     AuthState snapshot. Readers call State or Subscribe.
//   - Provider notifications and direct operation results converge through
//     derivation tickets: a derivation that started from an older session
//     value is discarded when a newer one already committed.
//   - A session without a profile row leaves User nil. It is logged and
//     reported to the ActivitySink, never returned as an error.
//
// Route guard:
//   - Guard.Decide is a pure function of a snapshot and a path. RouteGuard
//     wraps it as fiber middleware, remembering the requested path in a
//     short lived cookie so sign-in can return to it.
//
// Profile lifecycle:
//   - ProfileStateMachine moves profiles between active, inactive and
//     suspended with hooks and activity events.
//
// Providers live under provider/ (gotrue, postgrest, local) and the view
// layer under web/. API requests carrying a bearer token are checked by
// middleware/jwtware; activitymap writes activity events as audit records.
package auth
