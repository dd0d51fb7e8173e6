// Package local is a self hosted identity provider on bun. It keeps the same
// contract and error messages as the hosted provider so the auth Manager and
// the web layer work unchanged against either.
package local

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/propertipro/go-auth"
	"github.com/uptrace/bun"
)

var (
	errInvalidCredentials = func() error {
		return auth.NewProviderError(400, "invalid_credentials", "Invalid login credentials")
	}
	errUserExists = func() error {
		return auth.NewProviderError(422, "user_already_exists", "User already registered")
	}
	errEmailNotConfirmed = func() error {
		return auth.NewProviderError(400, "email_not_confirmed", "Email not confirmed")
	}
	errUserBanned = func() error {
		return auth.NewProviderError(403, "user_banned", "User is banned")
	}
	errUserInactive = func() error {
		return auth.NewProviderError(403, "user_inactive", "User account is inactive")
	}
	errSessionMissing = func() error {
		return &auth.ProviderError{Status: 401, Code: "session_not_found", Message: "Auth session missing!", Err: auth.ErrSessionMissing}
	}
	errRefreshNotFound = func() error {
		return auth.NewProviderError(400, "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found")
	}
	errRefreshUsed = func() error {
		return auth.NewProviderError(400, "refresh_token_already_used", "Invalid Refresh Token: Already Used")
	}
	errOTPInvalid = func() error {
		return &auth.ProviderError{Status: 403, Code: "otp_expired", Message: "Token has expired or is invalid", Err: ErrRecoveryInvalid}
	}
)

// Option configures a Service
type Option func(*Service)

// WithLogger sets the service logger
func WithLogger(logger auth.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMailer sets the mailer used for one time links
func WithMailer(m Mailer) Option {
	return func(s *Service) {
		if m != nil {
			s.mailer = m
		}
	}
}

// WithClock overrides the service clock
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRefreshTTL sets how long refresh tokens stay valid
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithRecoveryTTL sets how long emailed links stay valid
func WithRecoveryTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.recoveryTTL = ttl
		}
	}
}

// WithEmailConfirmation requires users to confirm their email before a
// session is issued. confirmURL receives the token query parameter.
func WithEmailConfirmation(confirmURL string) Option {
	return func(s *Service) {
		s.requireConfirmation = true
		s.confirmURL = confirmURL
	}
}

// WithDeterministicIDs derives user ids from the email address
func WithDeterministicIDs() Option {
	return func(s *Service) {
		s.deterministicIDs = true
	}
}

// WithMinPasswordLength sets the minimum accepted password length
func WithMinPasswordLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.minPasswordLength = n
		}
	}
}

// Service owns the local identity data. Use NewClient to get a
// auth.SessionProvider bound to one stored session.
type Service struct {
	store  *Store
	tokens *auth.TokenService
	mailer Mailer
	logger auth.Logger
	now    func() time.Time

	refreshTTL          time.Duration
	recoveryTTL         time.Duration
	requireConfirmation bool
	confirmURL          string
	deterministicIDs    bool
	minPasswordLength   int
}

// NewService creates a Service on db issuing access tokens with tokens
func NewService(db *bun.DB, tokens *auth.TokenService, opts ...Option) *Service {
	s := &Service{
		store:             NewStore(db),
		tokens:            tokens,
		logger:            auth.DefaultLogger(),
		now:               time.Now,
		refreshTTL:        30 * 24 * time.Hour,
		recoveryTTL:       time.Hour,
		minPasswordLength: 6,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.mailer == nil {
		s.mailer = LogMailer{Logger: s.logger}
	}

	return s
}

// Store returns the repository, it also serves as the profile store
func (s *Service) Store() *Store {
	return s.store
}

// CreateUser registers an account from an administrative context. The
// email is marked confirmed when confirmed is true.
func (s *Service) CreateUser(ctx context.Context, email, password string, attrs auth.SignUpAttributes, confirmed bool) (*auth.UserProfile, error) {
	account, err := s.register(ctx, email, password, attrs, confirmed)
	if err != nil {
		return nil, err
	}
	return s.store.FindProfile(ctx, account.ID)
}

// FindProfileByEmail resolves the profile of the account using email
func (s *Service) FindProfileByEmail(ctx context.Context, email string) (*auth.UserProfile, error) {
	account, err := s.store.FindAccountByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return s.store.FindProfile(ctx, account.ID)
}

// SetRole changes the role of a profile
func (s *Service) SetRole(ctx context.Context, id string, role auth.UserRole) (*auth.UserProfile, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	return s.store.UpdateProfile(ctx, id, auth.ProfileUpdate{Role: &role})
}

// RevokeAll signs the user out of every session
func (s *Service) RevokeAll(ctx context.Context, id string) error {
	return s.store.RevokeUser(ctx, id)
}

func (s *Service) register(ctx context.Context, email, password string, attrs auth.SignUpAttributes, confirmed bool) (*Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return nil, auth.NewProviderError(400, "validation_failed", "Unable to validate email address: invalid format")
	}

	if err := s.checkPassword(password); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id := uuid.New()
	if s.deterministicIDs {
		if hid, err := hashid.NewUUID(email); err == nil {
			id = hid
		}
	}

	now := s.now()
	account := &Account{
		ID:           id.String(),
		Email:        email,
		PasswordHash: hash,
		UserMetadata: attrs.Metadata(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if confirmed {
		account.EmailConfirmedAt = &now
	}

	profile := &auth.UserProfile{
		FullName:  attrs.FullName,
		Phone:     attrs.Phone,
		Role:      attrs.Role,
		Status:    auth.UserStatusActive,
		CreatedAt: now,
	}

	if err := s.store.CreateAccount(ctx, account, profile); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, errUserExists()
		}
		return nil, err
	}

	s.logger.Info("account registered", "user_id", account.ID, "confirmed", confirmed)
	return account, nil
}

func (s *Service) authenticate(ctx context.Context, email, password string) (*Account, error) {
	account, err := s.store.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, auth.ErrIdentityNotFound) {
			return nil, errInvalidCredentials()
		}
		return nil, err
	}

	if err := auth.ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		s.logger.Debug("password mismatch", "user_id", account.ID)
		return nil, errInvalidCredentials()
	}

	if s.requireConfirmation && !account.IsConfirmed() {
		return nil, errEmailNotConfirmed()
	}

	if err := s.ensureActive(ctx, account.ID); err != nil {
		return nil, err
	}

	if err := s.store.TouchSignIn(ctx, account.ID, s.now()); err != nil {
		s.logger.Warn("failed to record sign in", "user_id", account.ID, "error", err)
	}

	return account, nil
}

// ensureActive rejects suspended and inactive profiles. A missing profile
// row is tolerated.
func (s *Service) ensureActive(ctx context.Context, id string) error {
	profile, err := s.store.FindProfile(ctx, id)
	if err != nil {
		if errors.Is(err, auth.ErrProfileNotFound) {
			return nil
		}
		return err
	}

	switch profile.Status {
	case auth.UserStatusSuspended:
		return errUserBanned()
	case auth.UserStatusInactive:
		return errUserInactive()
	}
	return nil
}

func (s *Service) issueSession(ctx context.Context, account *Account, sessionID string) (*auth.Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	user := auth.SessionUser{
		ID:       account.ID,
		Email:    account.Email,
		Metadata: account.UserMetadata,
	}

	access, expiresAt, err := s.tokens.Generate(user, sessionID)
	if err != nil {
		return nil, err
	}

	refresh, err := randomToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.store.InsertRefreshToken(ctx, &RefreshToken{
		Token:     refresh,
		UserID:    account.ID,
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
	}); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &auth.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresAt:    expiresAt,
		User:         user,
	}, nil
}

// refresh rotates refreshToken. Presenting a revoked token revokes the
// whole session.
func (s *Service) refresh(ctx context.Context, refreshToken string) (*auth.Session, error) {
	rt, err := s.store.FindRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrRecoveryInvalid) {
			return nil, errRefreshNotFound()
		}
		return nil, err
	}

	if !s.now().Before(rt.ExpiresAt) {
		return nil, errRefreshNotFound()
	}

	ok, err := s.store.RevokeRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Warn("refresh token reuse detected", "user_id", rt.UserID, "session_id", rt.SessionID)
		if err := s.store.RevokeSession(ctx, rt.SessionID); err != nil {
			s.logger.Error("failed to revoke session", "session_id", rt.SessionID, "error", err)
		}
		return nil, errRefreshUsed()
	}

	if err := s.ensureActive(ctx, rt.UserID); err != nil {
		return nil, err
	}

	account, err := s.store.FindAccountByID(ctx, rt.UserID)
	if err != nil {
		return nil, err
	}

	return s.issueSession(ctx, account, rt.SessionID)
}

func (s *Service) sendLink(ctx context.Context, account *Account, kind RecoveryKind, base string) error {
	token, err := randomToken()
	if err != nil {
		return err
	}

	now := s.now()
	if err := s.store.InsertRecovery(ctx, &Recovery{
		TokenHash: hashToken(token),
		UserID:    account.ID,
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(s.recoveryTTL),
	}); err != nil {
		return fmt.Errorf("store %s token: %w", kind, err)
	}

	link, err := buildLink(base, token, kind)
	if err != nil {
		return err
	}

	if kind == RecoveryKindSignup {
		return s.mailer.SendConfirmation(ctx, account.Email, link)
	}
	return s.mailer.SendRecovery(ctx, account.Email, link)
}

func (s *Service) verify(ctx context.Context, token string, kind RecoveryKind) (*Account, error) {
	recovery, err := s.store.ConsumeRecovery(ctx, hashToken(token), kind, s.now())
	if err != nil {
		if errors.Is(err, ErrRecoveryInvalid) {
			return nil, errOTPInvalid()
		}
		return nil, err
	}

	if kind == RecoveryKindSignup {
		if err := s.store.ConfirmEmail(ctx, recovery.UserID, s.now()); err != nil {
			return nil, err
		}
	}

	return s.store.FindAccountByID(ctx, recovery.UserID)
}

func (s *Service) checkPassword(password string) error {
	if len(password) < s.minPasswordLength {
		return auth.NewProviderError(422, "weak_password",
			fmt.Sprintf("Password should be at least %d characters", s.minPasswordLength))
	}
	return nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func buildLink(base, token string, kind RecoveryKind) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid link base %q: %w", base, err)
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("type", string(kind))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
