package auth

import (
	"context"
	"sync"
)

// SessionStorage persists the session a provider client holds between
// process restarts or requests. Load returns nil, nil when key is unknown.
type SessionStorage interface {
	Load(ctx context.Context, key string) (*Session, error)
	Save(ctx context.Context, key string, session *Session) error
	Delete(ctx context.Context, key string) error
}

// MemorySessionStorage keeps sessions in process memory
type MemorySessionStorage struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStorage creates an empty in memory storage
func NewMemorySessionStorage() *MemorySessionStorage {
	return &MemorySessionStorage{sessions: make(map[string]*Session)}
}

func (s *MemorySessionStorage) Load(_ context.Context, key string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[key].Clone(), nil
}

func (s *MemorySessionStorage) Save(_ context.Context, key string, session *Session) error {
	if session == nil {
		return s.Delete(context.Background(), key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = session.Clone()
	return nil
}

func (s *MemorySessionStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}
