package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/propertipro/go-auth"
)

// Client is a auth.SessionProvider bound to one stored session. Each
// browser session, or each CLI profile, gets its own Client.
type Client struct {
	service  *Service
	storage  auth.SessionStorage
	key      string
	notifier auth.SessionNotifier
	mu       sync.Mutex
}

var _ auth.SessionProvider = (*Client)(nil)

// NewClient returns a Client persisting its session in storage under key
func (s *Service) NewClient(storage auth.SessionStorage, key string) *Client {
	if storage == nil {
		storage = auth.NewMemorySessionStorage()
	}
	return &Client{
		service: s,
		storage: storage,
		key:     key,
	}
}

func (c *Client) SignUp(ctx context.Context, email, password string, attrs auth.SignUpAttributes) (*auth.Session, error) {
	s := c.service

	account, err := s.register(ctx, email, password, attrs, !s.requireConfirmation)
	if err != nil {
		return nil, err
	}

	if s.requireConfirmation {
		if err := s.sendLink(ctx, account, RecoveryKindSignup, s.confirmURL); err != nil {
			s.logger.Error("failed to send confirmation", "user_id", account.ID, "error", err)
		}
		return nil, nil
	}

	session, err := s.issueSession(ctx, account, "")
	if err != nil {
		return nil, err
	}

	if err := c.store(ctx, auth.SessionEventSignedIn, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	s := c.service

	account, err := s.authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	session, err := s.issueSession(ctx, account, "")
	if err != nil {
		return nil, err
	}

	if err := c.store(ctx, auth.SessionEventSignedIn, session); err != nil {
		return nil, err
	}
	return session, nil
}

// SignOut revokes the current session. Without a stored session it only
// notifies listeners.
func (c *Client) SignOut(ctx context.Context) error {
	current, err := c.storage.Load(ctx, c.key)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	if current != nil {
		claims, err := c.service.tokens.Validate(current.AccessToken)
		switch {
		case err == nil && claims.SessionID != "":
			if err := c.service.store.RevokeSession(ctx, claims.SessionID); err != nil {
				return fmt.Errorf("revoke session: %w", err)
			}
		case current.RefreshToken != "":
			if rt, ferr := c.service.store.FindRefreshToken(ctx, current.RefreshToken); ferr == nil {
				if err := c.service.store.RevokeSession(ctx, rt.SessionID); err != nil {
					return fmt.Errorf("revoke session: %w", err)
				}
			}
		}
	}

	return c.store(ctx, auth.SessionEventSignedOut, nil)
}

// ResetPasswordForEmail sends a recovery link. Unknown addresses succeed
// silently so the endpoint does not disclose which emails are registered.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	s := c.service

	account, err := s.store.FindAccountByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			s.logger.Debug("recovery requested for unknown email")
			return nil
		}
		return err
	}

	return s.sendLink(ctx, account, RecoveryKindPassword, redirectTo)
}

// VerifyRecovery consumes a recovery token and signs the user in so they can
// choose a new password.
func (c *Client) VerifyRecovery(ctx context.Context, token string) (*auth.Session, error) {
	return c.verify(ctx, token, RecoveryKindPassword, auth.SessionEventPasswordRecovery)
}

// ConfirmEmail consumes a sign up confirmation token and signs the user in
func (c *Client) ConfirmEmail(ctx context.Context, token string) (*auth.Session, error) {
	return c.verify(ctx, token, RecoveryKindSignup, auth.SessionEventSignedIn)
}

func (c *Client) UpdatePassword(ctx context.Context, password string) error {
	s := c.service

	current, err := c.storage.Load(ctx, c.key)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if current == nil {
		return errSessionMissing()
	}

	claims, err := s.tokens.Validate(current.AccessToken)
	if err != nil {
		if auth.IsTokenExpiredError(err) && current.CanRefresh() {
			refreshed, rerr := c.RefreshSession(ctx)
			if rerr != nil {
				return rerr
			}
			claims, err = s.tokens.Validate(refreshed.AccessToken)
		}
		if err != nil {
			return errSessionMissing()
		}
	}

	if err := s.checkPassword(password); err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.store.UpdatePasswordHash(ctx, claims.UserID(), hash, s.now()); err != nil {
		return err
	}

	updated, err := c.storage.Load(ctx, c.key)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	c.notifier.Emit(ctx, auth.SessionEventUserUpdated, updated)
	return nil
}

// GetSession returns the stored session, refreshing it first when the
// access token expired. A rejected refresh token clears the session and
// signs listeners out.
func (c *Client) GetSession(ctx context.Context) (*auth.Session, error) {
	current, err := c.storage.Load(ctx, c.key)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if current == nil {
		return nil, nil
	}

	if !current.IsExpired(c.service.now(), 0) {
		return current, nil
	}

	if !current.CanRefresh() {
		c.service.logger.Info("stored session expired", "user_id", current.GetUserID())
		return nil, c.store(ctx, auth.SessionEventSignedOut, nil)
	}

	refreshed, err := c.RefreshSession(ctx)
	if err != nil {
		if auth.IsInvalidRefreshToken(err) {
			c.service.logger.Warn("stored session could not be refreshed", "user_id", current.GetUserID(), "error", err)
			return nil, c.store(ctx, auth.SessionEventSignedOut, nil)
		}
		return nil, err
	}
	return refreshed, nil
}

func (c *Client) RefreshSession(ctx context.Context) (*auth.Session, error) {
	c.mu.Lock()
	current, err := c.storage.Load(ctx, c.key)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !current.CanRefresh() {
		c.mu.Unlock()
		return nil, errSessionMissing()
	}

	session, err := c.service.refresh(ctx, current.RefreshToken)
	if err == nil {
		err = c.storage.Save(ctx, c.key, session)
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	c.notifier.Emit(ctx, auth.SessionEventTokenRefreshed, session)
	return session, nil
}

// SetSession stores a session obtained elsewhere, for example from a CLI
// profile file, and announces it as a sign in.
func (c *Client) SetSession(ctx context.Context, session *auth.Session) error {
	if session == nil || session.AccessToken == "" {
		return errSessionMissing()
	}
	return c.store(ctx, auth.SessionEventSignedIn, session)
}

func (c *Client) OnSessionChange(listener auth.SessionListener) func() {
	return c.notifier.Subscribe(listener)
}

func (c *Client) verify(ctx context.Context, token string, kind RecoveryKind, event auth.SessionEvent) (*auth.Session, error) {
	s := c.service

	account, err := s.verify(ctx, token, kind)
	if err != nil {
		return nil, err
	}

	if err := s.ensureActive(ctx, account.ID); err != nil {
		return nil, err
	}

	session, err := s.issueSession(ctx, account, "")
	if err != nil {
		return nil, err
	}

	if err := c.store(ctx, event, session); err != nil {
		return nil, err
	}
	return session, nil
}

// store persists session, a nil session deletes it, then notifies listeners
// outside the client lock.
func (c *Client) store(ctx context.Context, event auth.SessionEvent, session *auth.Session) error {
	c.mu.Lock()
	var err error
	if session == nil {
		err = c.storage.Delete(ctx, c.key)
	} else {
		err = c.storage.Save(ctx, c.key, session)
	}
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	c.notifier.Emit(ctx, event, session)
	return nil
}
