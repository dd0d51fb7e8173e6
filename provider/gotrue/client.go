package gotrue

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/propertipro/go-auth"
)

// Client is a auth.SessionProvider for one stored session
type Client struct {
	provider *Provider
	storage  auth.SessionStorage
	key      string
	notifier auth.SessionNotifier
	mu       sync.Mutex
}

var _ auth.SessionProvider = (*Client)(nil)

// NewClient returns a Client persisting its session in storage under key
func (p *Provider) NewClient(storage auth.SessionStorage, key string) *Client {
	if storage == nil {
		storage = auth.NewMemorySessionStorage()
	}
	return &Client{provider: p, storage: storage, key: key}
}

type credentials struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

func (c *Client) SignUp(ctx context.Context, email, password string, attrs auth.SignUpAttributes) (*auth.Session, error) {
	res := &tokenResponse{}
	body := credentials{Email: email, Password: password, Data: attrs.Metadata()}
	if err := c.provider.do(ctx, http.MethodPost, "/signup", nil, "", body, res); err != nil {
		return nil, err
	}

	session, err := c.provider.session(res)
	if err != nil {
		return nil, err
	}
	if session == nil {
		c.provider.logger.Info("sign up pending confirmation", "user_id", firstNonEmpty(res.ID, res.User.ID))
		return nil, nil
	}

	if err := c.store(ctx, auth.SessionEventSignedIn, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	return c.grant(ctx, "password", credentials{Email: email, Password: password}, auth.SessionEventSignedIn)
}

// SignOut revokes the session server side. A session the server no longer
// knows is still removed locally.
func (c *Client) SignOut(ctx context.Context) error {
	current, err := c.storage.Load(ctx, c.key)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	if current != nil {
		err := c.provider.do(ctx, http.MethodPost, "/logout", nil, current.AccessToken, nil, nil)
		if err != nil && !ignorableLogoutError(err) {
			return err
		}
	}

	return c.store(ctx, auth.SessionEventSignedOut, nil)
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	var query url.Values
	if redirectTo != "" {
		query = url.Values{"redirect_to": {redirectTo}}
	}
	return c.provider.do(ctx, http.MethodPost, "/recover", query, "", map[string]string{"email": email}, nil)
}

// VerifyRecovery exchanges the token hash from a recovery link for a session
func (c *Client) VerifyRecovery(ctx context.Context, tokenHash string) (*auth.Session, error) {
	res := &tokenResponse{}
	body := map[string]string{"type": "recovery", "token_hash": tokenHash}
	if err := c.provider.do(ctx, http.MethodPost, "/verify", nil, "", body, res); err != nil {
		return nil, err
	}

	session, err := c.provider.session(res)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errSessionMissing()
	}

	if err := c.store(ctx, auth.SessionEventPasswordRecovery, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (c *Client) UpdatePassword(ctx context.Context, password string) error {
	current, err := c.GetSession(ctx)
	if err != nil {
		return err
	}
	if current == nil {
		return errSessionMissing()
	}

	user := &userJSON{}
	if err := c.provider.do(ctx, http.MethodPut, "/user", nil, current.AccessToken, map[string]string{"password": password}, user); err != nil {
		return err
	}

	if user.ID != "" {
		current.User.Email = firstNonEmpty(user.Email, current.User.Email)
		if user.UserMetadata != nil {
			current.User.Metadata = user.UserMetadata
		}
	}
	return c.store(ctx, auth.SessionEventUserUpdated, current)
}

// GetSession returns the stored session, refreshing it when the access token
// is about to expire. A refresh token the server rejects clears the session
// and signs listeners out.
func (c *Client) GetSession(ctx context.Context) (*auth.Session, error) {
	current, err := c.storage.Load(ctx, c.key)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if current == nil {
		return nil, nil
	}

	if !current.IsExpired(c.provider.now(), c.provider.expiryMargin) {
		return current, nil
	}

	if !current.CanRefresh() {
		return nil, c.store(ctx, auth.SessionEventSignedOut, nil)
	}

	refreshed, err := c.RefreshSession(ctx)
	if err != nil {
		if auth.IsInvalidRefreshToken(err) {
			c.provider.logger.Warn("stored session could not be refreshed", "user_id", current.GetUserID(), "error", err)
			return nil, c.store(ctx, auth.SessionEventSignedOut, nil)
		}
		return nil, err
	}
	return refreshed, nil
}

func (c *Client) RefreshSession(ctx context.Context) (*auth.Session, error) {
	current, err := c.storage.Load(ctx, c.key)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !current.CanRefresh() {
		return nil, errSessionMissing()
	}

	return c.grant(ctx, "refresh_token", map[string]string{"refresh_token": current.RefreshToken}, auth.SessionEventTokenRefreshed)
}

// SetSession stores a session obtained elsewhere
func (c *Client) SetSession(ctx context.Context, session *auth.Session) error {
	if session == nil || session.AccessToken == "" {
		return errSessionMissing()
	}
	return c.store(ctx, auth.SessionEventSignedIn, session)
}

func (c *Client) OnSessionChange(listener auth.SessionListener) func() {
	return c.notifier.Subscribe(listener)
}

func (c *Client) grant(ctx context.Context, grantType string, body any, event auth.SessionEvent) (*auth.Session, error) {
	res := &tokenResponse{}
	query := url.Values{"grant_type": {grantType}}
	if err := c.provider.do(ctx, http.MethodPost, "/token", query, "", body, res); err != nil {
		return nil, err
	}

	session, err := c.provider.session(res)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("gotrue: %s grant returned no session", grantType)
	}

	if err := c.store(ctx, event, session); err != nil {
		return nil, err
	}
	return session, nil
}

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

func ignorableLogoutError(err error) bool {
	perr, ok := err.(*auth.ProviderError)
	if !ok {
		return false
	}
	switch perr.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

func errSessionMissing() error {
	return &auth.ProviderError{
		Status:  http.StatusUnauthorized,
		Code:    "session_not_found",
		Message: "Auth session missing!",
		Err:     auth.ErrSessionMissing,
	}
}
