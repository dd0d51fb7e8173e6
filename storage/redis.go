package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/propertipro/go-auth"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces session keys
const DefaultRedisPrefix = "propertipro:session:"

// Connect creates a redis client from a redis:// URL or a host:port address
func Connect(addr string) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

// RedisStorage keeps sessions in redis. Keys expire with the refresh
// window so abandoned browser sessions do not pile up.
type RedisStorage struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

var _ auth.SessionStorage = (*RedisStorage)(nil)

// RedisOption configures a RedisStorage
type RedisOption func(*RedisStorage)

// WithRedisPrefix overrides DefaultRedisPrefix
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStorage) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisTTL sets the key expiration, zero keeps keys forever
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStorage) {
		s.ttl = ttl
	}
}

// NewRedisStorage wraps client
func NewRedisStorage(client redis.Cmdable, opts ...RedisOption) *RedisStorage {
	s := &RedisStorage{
		client: client,
		prefix: DefaultRedisPrefix,
		ttl:    30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStorage) Load(ctx context.Context, key string) (*auth.Session, error) {
	raw, err := s.client.Get(ctx, s.Key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	session := &auth.Session{}
	if err := json.Unmarshal(raw, session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	return session, nil
}

func (s *RedisStorage) Save(ctx context.Context, key string, session *auth.Session) error {
	if session == nil {
		return s.Delete(ctx, key)
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.Key(key), raw, s.ttl).Err()
}

func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.Key(key)).Err()
}

// Key returns the redis key used for key
func (s *RedisStorage) Key(key string) string {
	return s.prefix + key
}
