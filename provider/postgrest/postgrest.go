// Package postgrest reads and writes the user_profiles table through a
// PostgREST endpoint, the REST layer of a Supabase project.
package postgrest

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

const (
	restPath     = "/rest/v1/"
	profileTable = "user_profiles"
	objectMedia  = "application/vnd.pgrst.object+json"
)

// TokenSource returns the access token requests run as. Row level security
// on the table sees the signed in user.
type TokenSource func(ctx context.Context) string

// Config is the connection configuration
type Config interface {
	GetURL() string
	GetAnonKey() string
	GetTimeout() time.Duration
}

// Option configures a ProfileStore
type Option func(*ProfileStore)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(s *ProfileStore) {
		if c != nil {
			s.http = c
		}
	}
}

// WithLogger sets the store logger
func WithLogger(logger auth.Logger) Option {
	return func(s *ProfileStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTokenSource makes requests carry the user's access token
func WithTokenSource(src TokenSource) Option {
	return func(s *ProfileStore) {
		s.token = src
	}
}

// WithTable overrides the profile table name
func WithTable(table string) Option {
	return func(s *ProfileStore) {
		if table != "" {
			s.table = table
		}
	}
}

// ProfileStore implements auth.ProfileStore over PostgREST
type ProfileStore struct {
	baseURL string
	anonKey string
	table   string
	http    *http.Client
	token   TokenSource
	logger  auth.Logger
}

var _ auth.ProfileStore = (*ProfileStore)(nil)

// New creates a ProfileStore for the project at cfg.GetURL()
func New(cfg Config, opts ...Option) (*ProfileStore, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.GetURL()), "/")
	if base == "" {
		return nil, errors.New("postgrest: url is required")
	}

	timeout := cfg.GetTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s := &ProfileStore{
		baseURL: base,
		anonKey: cfg.GetAnonKey(),
		table:   profileTable,
		http:    &http.Client{Timeout: timeout},
		logger:  auth.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// WithToken returns a copy of s that runs requests as the given token
// source. Each browser session gets its own copy.
func (s *ProfileStore) WithToken(src TokenSource) *ProfileStore {
	c := *s
	c.token = src
	return &c
}

// FindProfile fetches the row with id
func (s *ProfileStore) FindProfile(ctx context.Context, id string) (*auth.UserProfile, error) {
	profile := &auth.UserProfile{}
	err := s.do(ctx, http.MethodGet, rowQuery(id), nil, profile)
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// UpdateProfile patches the row with id and returns the stored row
func (s *ProfileStore) UpdateProfile(ctx context.Context, id string, update auth.ProfileUpdate) (*auth.UserProfile, error) {
	if update.IsEmpty() {
		return nil, auth.ErrEmptyUpdate
	}

	profile := &auth.UserProfile{}
	if err := s.do(ctx, http.MethodPatch, rowQuery(id), update, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// UpdateStatus implements auth.ProfileStatusStore
func (s *ProfileStore) UpdateStatus(ctx context.Context, id string, status auth.UserStatus) (*auth.UserProfile, error) {
	return s.UpdateProfile(ctx, id, auth.ProfileUpdate{Status: &status})
}

func rowQuery(id string) url.Values {
	return url.Values{
		"id":     {"eq." + id},
		"select": {"*"},
	}
}

type restError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (s *ProfileStore) do(ctx context.Context, method string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	endpoint := s.baseURL + restPath + s.table + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}

	req.Header.Set("Accept", objectMedia)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
	}
	if s.anonKey != "" {
		req.Header.Set("apikey", s.anonKey)
	}
	bearer := s.anonKey
	if s.token != nil {
		if t := s.token(ctx); t != "" {
			bearer = t
		}
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("postgrest %s %s: %w", method, s.table, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("postgrest %s %s: read body: %w", method, s.table, err)
	}

	if res.StatusCode >= 400 {
		var e restError
		_ = json.Unmarshal(raw, &e)

		// singular responses with zero rows
		if e.Code == "PGRST116" || res.StatusCode == http.StatusNotAcceptable {
			return auth.ErrProfileNotFound
		}

		msg := e.Message
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		s.logger.Debug("postgrest error", "method", method, "status", res.StatusCode, "code", e.Code, "details", e.Details)
		return auth.NewProviderError(res.StatusCode, e.Code, msg)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("postgrest %s %s: decode: %w", method, s.table, err)
	}
	return nil
}
