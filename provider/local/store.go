package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/propertipro/go-auth"
	"github.com/uptrace/bun"
)

// ErrEmailTaken is returned when an account already uses the email
var ErrEmailTaken = goerrors.New("email already registered", goerrors.CategoryConflict).
	WithTextCode("EMAIL_TAKEN").
	WithCode(goerrors.CodeConflict)

// ErrRecoveryInvalid is returned for unknown, used or expired one time tokens
var ErrRecoveryInvalid = goerrors.New("token is invalid or has expired", goerrors.CategoryValidation).
	WithTextCode("RECOVERY_INVALID").
	WithCode(goerrors.CodeForbidden)

// Store persists credentials, refresh tokens, one time tokens and profiles
// through Repositories. It implements auth.ProfileStore and
// auth.ProfileStatusStore.
type Store struct {
	db    *bun.DB
	repos Repositories
}

// NewStore creates a Store on db
func NewStore(db *bun.DB) *Store {
	repos := NewRepositories(db)
	repos.MustValidate()
	return &Store{db: db, repos: repos}
}

// Repositories returns the repositories the store writes through
func (s *Store) Repositories() Repositories {
	return s.repos
}

// CreateAccount inserts the credentials and the profile row together
func (s *Store) CreateAccount(ctx context.Context, account *Account, profile *auth.UserProfile) error {
	return s.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := s.findAccountByEmail(ctx, tx, account.Email); err == nil {
			return ErrEmailTaken
		} else if !errors.Is(err, auth.ErrIdentityNotFound) {
			return err
		}

		if _, err := s.repos.Accounts().CreateTx(ctx, tx, account); err != nil {
			return fmt.Errorf("insert account: %w", err)
		}

		profile.ID = account.ID
		profile.EnsureRole()
		profile.EnsureStatus()
		if _, err := s.repos.Profiles().CreateTx(ctx, tx, profile); err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		return nil
	})
}

// FindAccountByEmail looks up credentials by email. Emails are stored
// lower cased.
func (s *Store) FindAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return s.findAccountByEmail(ctx, s.db, email)
}

func (s *Store) findAccountByEmail(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	account, err := s.repos.Accounts().GetByIdentifierTx(ctx, tx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, notFound(err, auth.ErrIdentityNotFound)
	}
	return account, nil
}

// FindAccountByID looks up credentials by id
func (s *Store) FindAccountByID(ctx context.Context, id string) (*Account, error) {
	account, err := s.repos.Accounts().GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, auth.ErrIdentityNotFound)
	}
	return account, nil
}

// UpdatePasswordHash replaces the stored hash
func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	return s.updateAccount(ctx, id, func(account *Account) {
		account.PasswordHash = hash
		account.UpdatedAt = now
	})
}

// ConfirmEmail stamps the confirmation time
func (s *Store) ConfirmEmail(ctx context.Context, id string, now time.Time) error {
	return s.updateAccount(ctx, id, func(account *Account) {
		account.EmailConfirmedAt = &now
		account.UpdatedAt = now
	})
}

// TouchSignIn records a successful sign in on the account and the profile.
// A missing profile row is tolerated.
func (s *Store) TouchSignIn(ctx context.Context, id string, now time.Time) error {
	if err := s.updateAccount(ctx, id, func(account *Account) {
		account.LastSignInAt = &now
	}); err != nil {
		return err
	}

	profile, err := s.FindProfile(ctx, id)
	if err != nil {
		if errors.Is(err, auth.ErrProfileNotFound) {
			return nil
		}
		return err
	}
	profile.LastLoginAt = &now
	_, err = s.repos.Profiles().Update(ctx, profile, repository.UpdateByID(profile.ID))
	return err
}

func (s *Store) updateAccount(ctx context.Context, id string, mutate func(*Account)) error {
	account, err := s.FindAccountByID(ctx, id)
	if err != nil {
		return err
	}
	mutate(account)
	if _, err := s.repos.Accounts().Update(ctx, account, repository.UpdateByID(account.ID)); err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

// InsertRefreshToken stores a new refresh token
func (s *Store) InsertRefreshToken(ctx context.Context, token *RefreshToken) error {
	_, err := s.repos.RefreshTokens().Create(ctx, token)
	return err
}

// FindRefreshToken returns the refresh token row
func (s *Store) FindRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	rt, err := s.repos.RefreshTokens().GetByIdentifier(ctx, token)
	if err != nil {
		return nil, notFound(err, ErrRecoveryInvalid)
	}
	return rt, nil
}

// RevokeRefreshToken marks token as used. It returns false when the token
// was already revoked, which signals a reuse.
func (s *Store) RevokeRefreshToken(ctx context.Context, token string) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*RefreshToken)(nil)).
		Set("revoked = ?", true).
		Where("token = ?", token).
		Where("revoked = ?", false).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RevokeSession revokes every refresh token of a session
func (s *Store) RevokeSession(ctx context.Context, sessionID string) error {
	_, err := s.db.NewUpdate().
		Model((*RefreshToken)(nil)).
		Set("revoked = ?", true).
		Where("session_id = ?", sessionID).
		Exec(ctx)
	return err
}

// RevokeUser revokes every refresh token of a user
func (s *Store) RevokeUser(ctx context.Context, userID string) error {
	_, err := s.db.NewUpdate().
		Model((*RefreshToken)(nil)).
		Set("revoked = ?", true).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

// InsertRecovery stores a one time token hash
func (s *Store) InsertRecovery(ctx context.Context, recovery *Recovery) error {
	_, err := s.repos.Recoveries().Create(ctx, recovery)
	return err
}

// ConsumeRecovery marks a one time token as used and returns it
func (s *Store) ConsumeRecovery(ctx context.Context, tokenHash string, kind RecoveryKind, now time.Time) (*Recovery, error) {
	var recovery *Recovery
	err := s.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := s.repos.Recoveries().GetByIdentifierTx(ctx, tx, tokenHash)
		if err != nil {
			return notFound(err, ErrRecoveryInvalid)
		}

		if found.Kind != kind || found.UsedAt != nil || !now.Before(found.ExpiresAt) {
			return ErrRecoveryInvalid
		}

		res, err := tx.NewUpdate().
			Model((*Recovery)(nil)).
			Set("used_at = ?", now).
			Where("token_hash = ?", tokenHash).
			Where("used_at IS NULL").
			Exec(ctx)
		if err := expectRow(res, err, ErrRecoveryInvalid); err != nil {
			return err
		}
		found.UsedAt = &now
		recovery = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recovery, nil
}

// FindProfile implements auth.ProfileStore
func (s *Store) FindProfile(ctx context.Context, id string) (*auth.UserProfile, error) {
	return s.findProfile(ctx, s.db, id)
}

func (s *Store) findProfile(ctx context.Context, tx bun.IDB, id string) (*auth.UserProfile, error) {
	profile, err := s.repos.Profiles().GetByIdentifierTx(ctx, tx, id)
	if err != nil {
		return nil, notFound(err, auth.ErrProfileNotFound)
	}
	return profile, nil
}

// UpdateProfile implements auth.ProfileStore
func (s *Store) UpdateProfile(ctx context.Context, id string, update auth.ProfileUpdate) (*auth.UserProfile, error) {
	if update.IsEmpty() {
		return nil, auth.ErrEmptyUpdate
	}
	if update.Role != nil && !update.Role.IsValid() {
		return nil, fmt.Errorf("invalid role %q", *update.Role)
	}
	if update.Status != nil && !update.Status.IsValid() {
		return nil, fmt.Errorf("invalid status %q", *update.Status)
	}

	var profile *auth.UserProfile
	err := s.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := s.findProfile(ctx, tx, id)
		if err != nil {
			return err
		}

		update.Apply(found)

		updated, err := s.repos.Profiles().UpdateTx(ctx, tx, found, repository.UpdateByID(found.ID))
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		if updated == nil {
			updated = found
		}
		profile = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// UpdateStatus implements auth.ProfileStatusStore
func (s *Store) UpdateStatus(ctx context.Context, id string, status auth.UserStatus) (*auth.UserProfile, error) {
	return s.UpdateProfile(ctx, id, auth.ProfileUpdate{Status: &status})
}

// ListProfiles returns profiles ordered by creation time
func (s *Store) ListProfiles(ctx context.Context, limit int) ([]auth.UserProfile, error) {
	var profiles []auth.UserProfile
	q := s.db.NewSelect().
		Model(&profiles).
		OrderExpr("up.created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return profiles, nil
}

func notFound(err, sentinel error) error {
	if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}

func expectRow(res sql.Result, err error, sentinel error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, auth.ErrIdentityNotFound) || repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows)
}
