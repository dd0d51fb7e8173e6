package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/propertipro/go-auth"
	"github.com/propertipro/go-auth/config"
	"github.com/propertipro/go-auth/persistence"
	"github.com/propertipro/go-auth/provider/gotrue"
	"github.com/propertipro/go-auth/provider/local"
	"github.com/propertipro/go-auth/provider/postgrest"
	"github.com/propertipro/go-auth/storage"
	"github.com/propertipro/go-auth/web"
	"github.com/uptrace/bun"
)

// stack holds the provider side of the application: the identity provider,
// the profile store and where sessions are kept.
type stack struct {
	cfg      *config.Config
	logger   auth.Logger
	db       *bun.DB
	local    *local.Service
	gotrue   *gotrue.Provider
	profiles *postgrest.ProfileStore
	storage  auth.SessionStorage
	// validator verifies access tokens presented to the API
	validator auth.TokenValidator
	closers   []func()
}

// newStack wires the configured provider. A nil sessions value uses the
// configured session storage.
func newStack(cfg *config.Config, logger auth.Logger, sessions auth.SessionStorage) (*stack, error) {
	s := &stack{cfg: cfg, logger: logger, storage: sessions}

	if s.storage == nil {
		if err := s.openStorage(); err != nil {
			s.Close()
			return nil, err
		}
	}

	var err error
	switch cfg.Auth.Provider {
	case config.ProviderLocal:
		err = s.openLocal()
	case config.ProviderGoTrue:
		err = s.openGoTrue()
	default:
		err = fmt.Errorf("unknown auth provider %q", cfg.Auth.Provider)
	}
	if err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func (s *stack) openStorage() error {
	switch s.cfg.Storage.Driver {
	case config.StorageFile:
		fs, err := storage.NewFileStorage(s.cfg.Storage.Path)
		if err != nil {
			return err
		}
		s.storage = fs
	case config.StorageRedis:
		client, err := storage.Connect(s.cfg.Storage.RedisAddr)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, func() { client.Close() })
		s.storage = storage.NewRedisStorage(client,
			storage.WithRedisPrefix(s.cfg.Storage.RedisPrefix),
			storage.WithRedisTTL(s.cfg.Auth.RefreshExpiration),
		)
	default:
		s.storage = auth.NewMemorySessionStorage()
	}
	return nil
}

func (s *stack) openDB() error {
	if s.db != nil {
		return nil
	}
	db, err := persistence.Open(s.cfg.Persistence)
	if err != nil {
		return err
	}
	s.db = db
	s.closers = append(s.closers, func() { db.Close() })
	return nil
}

func (s *stack) openLocal() error {
	if err := s.openDB(); err != nil {
		return err
	}

	tokens := auth.NewTokenService(
		[]byte(s.cfg.Auth.SigningKey),
		s.cfg.Auth.TokenExpiration,
		s.cfg.Auth.Issuer,
		s.cfg.Auth.Audience,
		s.logger,
	)

	opts := []local.Option{
		local.WithLogger(s.logger),
		local.WithRefreshTTL(s.cfg.Auth.RefreshExpiration),
	}
	if s.cfg.Auth.RequireConfirmation {
		opts = append(opts, local.WithEmailConfirmation(strings.TrimRight(s.cfg.App.SiteURL, "/")+"/confirm"))
	}
	if s.cfg.Auth.DeterministicIDs {
		opts = append(opts, local.WithDeterministicIDs())
	}

	s.validator = tokens
	s.local = local.NewService(s.db, tokens, opts...)
	return nil
}

func (s *stack) openGoTrue() error {
	validator, err := s.gotrueValidator()
	if err != nil {
		return err
	}

	provider, err := gotrue.New(s.cfg.GoTrue,
		gotrue.WithLogger(s.logger),
		gotrue.WithValidator(validator),
	)
	if err != nil {
		return err
	}

	profiles, err := postgrest.New(s.cfg.GoTrue, postgrest.WithLogger(s.logger))
	if err != nil {
		return err
	}

	s.gotrue = provider
	s.profiles = profiles
	s.validator = validator
	return nil
}

// gotrueValidator prefers the project JWKS, then the shared JWT secret.
// Without either the token is decoded but not verified.
func (s *stack) gotrueValidator() (auth.TokenValidator, error) {
	switch {
	case s.cfg.GoTrue.JWKSURL != "":
		v, err := auth.NewJWKSValidator(s.cfg.GoTrue.JWKSURL, s.logger)
		if err != nil {
			return nil, fmt.Errorf("jwks: %w", err)
		}
		s.closers = append(s.closers, v.End)
		return v, nil
	case s.cfg.GoTrue.JWTSecret != "":
		return auth.NewTokenService([]byte(s.cfg.GoTrue.JWTSecret), 0, "", s.cfg.Auth.Audience, s.logger), nil
	default:
		s.logger.Warn("gotrue access tokens are not verified, set jwks_url or jwt_secret")
		return auth.UnverifiedValidator{}, nil
	}
}

// client returns the provider client and profile store for one session key
func (s *stack) client(key string) (auth.SessionProvider, auth.ProfileStore) {
	if s.local != nil {
		return s.local.NewClient(s.storage, key), s.local.Store()
	}

	client := s.gotrue.NewClient(s.storage, key)
	profiles := s.profiles.WithToken(func(ctx context.Context) string {
		session, err := s.storage.Load(ctx, key)
		if err != nil || session == nil {
			return ""
		}
		return session.AccessToken
	})
	return client, profiles
}

func (s *stack) factory() web.ClientFactory {
	return s.client
}

// requireLocal fails for commands that administer the built in provider
func (s *stack) requireLocal() (*local.Service, error) {
	if s.local == nil {
		return nil, fmt.Errorf("command needs auth.provider %q, configured %q", config.ProviderLocal, s.cfg.Auth.Provider)
	}
	return s.local, nil
}

// Close releases connections in reverse order
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
