// Package gotrue talks to a hosted GoTrue compatible identity API, the auth
// service behind Supabase projects.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/propertipro/go-auth"
)

const authPath = "/auth/v1"

// Config is the connection configuration
type Config interface {
	GetURL() string
	GetAnonKey() string
	GetTimeout() time.Duration
}

// Option configures a Provider
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.http = c
		}
	}
}

// WithLogger sets the provider logger
func WithLogger(logger auth.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithValidator verifies access tokens returned by the API. Without one the
// claims are decoded unverified.
func WithValidator(v auth.TokenValidator) Option {
	return func(p *Provider) {
		if v != nil {
			p.validator = v
		}
	}
}

// WithClock overrides the provider clock
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithExpiryMargin sets how early before expiry a session is refreshed
func WithExpiryMargin(d time.Duration) Option {
	return func(p *Provider) {
		if d >= 0 {
			p.expiryMargin = d
		}
	}
}

// Provider holds what every Client shares: the API endpoint, the HTTP
// client and the token validator.
type Provider struct {
	baseURL      string
	anonKey      string
	http         *http.Client
	validator    auth.TokenValidator
	logger       auth.Logger
	now          func() time.Time
	expiryMargin time.Duration
}

// New creates a Provider for the project at cfg.GetURL()
func New(cfg Config, opts ...Option) (*Provider, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.GetURL()), "/")
	if base == "" {
		return nil, errors.New("gotrue: url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("gotrue: invalid url: %w", err)
	}

	timeout := cfg.GetTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	p := &Provider{
		baseURL:      base,
		anonKey:      cfg.GetAnonKey(),
		http:         &http.Client{Timeout: timeout},
		validator:    auth.UnverifiedValidator{},
		logger:       auth.DefaultLogger(),
		now:          time.Now,
		expiryMargin: 10 * time.Second,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p, nil
}

// tokenResponse is the session payload of the token, signup and verify
// endpoints
type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	RefreshToken string   `json:"refresh_token"`
	User         userJSON `json:"user"`
	// signup without a session answers with the bare user
	ID    string `json:"id"`
	Email string `json:"email"`
}

type userJSON struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// errorResponse covers the error shapes GoTrue has used over time
type errorResponse struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
	Error            string `json:"error"`
	ErrorCode        string `json:"error_code"`
	Code             any    `json:"code"`
}

func (e errorResponse) providerError(status int) *auth.ProviderError {
	msg := firstNonEmpty(e.Msg, e.ErrorDescription, e.Message, e.Error)
	if msg == "" {
		msg = http.StatusText(status)
	}

	code := e.ErrorCode
	if code == "" {
		if s, ok := e.Code.(string); ok {
			code = s
		}
	}
	if code == "" {
		code = e.Error
	}

	perr := auth.NewProviderError(status, code, msg)
	if code == "session_not_found" || (status == http.StatusUnauthorized && strings.Contains(strings.ToLower(msg), "session")) {
		perr.Err = auth.ErrSessionMissing
	}
	return perr
}

func (p *Provider) endpoint(path string, query url.Values) string {
	u := p.baseURL + authPath + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do sends body as JSON and decodes a 2xx answer into out
func (p *Provider) do(ctx context.Context, method, path string, query url.Values, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.endpoint(path, query), reader)
	if err != nil {
		return err
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.anonKey != "" {
		req.Header.Set("apikey", p.anonKey)
	}
	if bearer == "" {
		bearer = p.anonKey
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("gotrue %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("gotrue %s %s: read body: %w", method, path, err)
	}

	if res.StatusCode >= 400 {
		var e errorResponse
		_ = json.Unmarshal(raw, &e)
		perr := e.providerError(res.StatusCode)
		p.logger.Debug("gotrue error", "method", method, "path", path, "status", res.StatusCode, "code", perr.Code)
		return perr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("gotrue %s %s: decode: %w", method, path, err)
	}
	return nil
}

// session turns a token response into a Session. It returns nil when the
// response carries no access token.
func (p *Provider) session(res *tokenResponse) (*auth.Session, error) {
	if res == nil || res.AccessToken == "" {
		return nil, nil
	}

	claims, err := p.validator.Validate(res.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("gotrue: access token rejected: %w", err)
	}

	user := auth.SessionUser{
		ID:       res.User.ID,
		Email:    res.User.Email,
		Metadata: res.User.UserMetadata,
	}
	if user.ID == "" {
		user = claims.SessionUser()
	}
	if user.ID != claims.UserID() {
		return nil, fmt.Errorf("gotrue: token subject %q does not match user %q: %w", claims.UserID(), user.ID, auth.ErrTokenMalformed)
	}

	expiresAt := claims.Expires()
	switch {
	case res.ExpiresAt > 0:
		expiresAt = time.Unix(res.ExpiresAt, 0)
	case res.ExpiresIn > 0:
		expiresAt = p.now().Add(time.Duration(res.ExpiresIn) * time.Second)
	}

	tokenType := res.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}

	return &auth.Session{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    tokenType,
		ExpiresAt:    expiresAt,
		User:         user,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
