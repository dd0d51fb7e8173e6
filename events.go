package auth

import (
	"context"
	"sync"
)

// SessionEvent names a provider session change
type SessionEvent string

const (
	SessionEventInitial          SessionEvent = "INITIAL_SESSION"
	SessionEventSignedIn         SessionEvent = "SIGNED_IN"
	SessionEventSignedOut        SessionEvent = "SIGNED_OUT"
	SessionEventTokenRefreshed   SessionEvent = "TOKEN_REFRESHED"
	SessionEventUserUpdated      SessionEvent = "USER_UPDATED"
	SessionEventPasswordRecovery SessionEvent = "PASSWORD_RECOVERY"
)

// SessionChange is the notification pushed by a SessionProvider
type SessionChange struct {
	Event   SessionEvent
	Session *Session
}

// SessionListener receives session change notifications
type SessionListener func(ctx context.Context, change SessionChange)

// SessionNotifier keeps the listeners of a provider client. The zero value
// is ready to use.
type SessionNotifier struct {
	mu        sync.Mutex
	listeners map[uint64]SessionListener
	nextID    uint64
}

// Subscribe registers listener and returns the function that removes it
func (n *SessionNotifier) Subscribe(listener SessionListener) func() {
	if listener == nil {
		return func() {}
	}

	n.mu.Lock()
	if n.listeners == nil {
		n.listeners = make(map[uint64]SessionListener)
	}
	n.nextID++
	id := n.nextID
	n.listeners[id] = listener
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners, id)
			n.mu.Unlock()
		})
	}
}

// Emit delivers change to every listener. It must not be called while
// holding a lock a listener may need.
func (n *SessionNotifier) Emit(ctx context.Context, event SessionEvent, session *Session) {
	n.mu.Lock()
	listeners := make([]SessionListener, 0, len(n.listeners))
	for _, l := range n.listeners {
		listeners = append(listeners, l)
	}
	n.mu.Unlock()

	change := SessionChange{Event: event, Session: session.Clone()}
	for _, l := range listeners {
		l(ctx, change)
	}
}

// Len returns the number of registered listeners
func (n *SessionNotifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}
