package local

import (
	"embed"
	"io/fs"
	"time"

	"github.com/uptrace/bun"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the schema migrations for the local provider tables
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Account holds the credentials of a user
type Account struct {
	bun.BaseModel `bun:"table:auth_users,alias:au"`

	ID               string         `bun:"id,pk"`
	Email            string         `bun:"email,notnull"`
	PasswordHash     string         `bun:"password_hash,notnull"`
	UserMetadata     map[string]any `bun:"user_metadata,notnull"`
	EmailConfirmedAt *time.Time     `bun:"email_confirmed_at,nullzero"`
	LastSignInAt     *time.Time     `bun:"last_sign_in_at,nullzero"`
	CreatedAt        time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// IsConfirmed returns true once the email address was confirmed
func (a *Account) IsConfirmed() bool {
	return a != nil && a.EmailConfirmedAt != nil
}

// RefreshToken is an opaque single use token bound to a session
type RefreshToken struct {
	bun.BaseModel `bun:"table:auth_refresh_tokens,alias:art"`

	Token     string    `bun:"token,pk"`
	UserID    string    `bun:"user_id,notnull"`
	SessionID string    `bun:"session_id,notnull"`
	Revoked   bool      `bun:"revoked,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
}

// RecoveryKind distinguishes emailed one time tokens
type RecoveryKind string

const (
	RecoveryKindPassword RecoveryKind = "recovery"
	RecoveryKindSignup   RecoveryKind = "signup"
)

// Recovery is an emailed one time token. Only its hash is stored.
type Recovery struct {
	bun.BaseModel `bun:"table:auth_recoveries,alias:ar"`

	TokenHash string       `bun:"token_hash,pk"`
	UserID    string       `bun:"user_id,notnull"`
	Kind      RecoveryKind `bun:"kind,notnull"`
	CreatedAt time.Time    `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt time.Time    `bun:"expires_at,notnull"`
	UsedAt    *time.Time   `bun:"used_at,nullzero"`
}
