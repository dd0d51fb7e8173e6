package local

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/propertipro/go-auth"
	"github.com/uptrace/bun"
)

// Repositories exposes the repositories behind the local provider
type Repositories interface {
	repository.Validator
	repository.TransactionManager
	Accounts() repository.Repository[*Account]
	Profiles() repository.Repository[*auth.UserProfile]
	RefreshTokens() repository.Repository[*RefreshToken]
	Recoveries() repository.Repository[*Recovery]
}

// stringID maps the text primary keys we store to the uuid handlers
func stringID(id string) uuid.UUID {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

func NewAccountsRepository(db *bun.DB) repository.Repository[*Account] {
	return repository.NewRepository(db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account {
			return &Account{}
		},
		GetID: func(record *Account) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return stringID(record.ID)
		},
		SetID: func(record *Account, id uuid.UUID) {
			if record != nil {
				record.ID = id.String()
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})
}

func NewProfilesRepository(db *bun.DB) repository.Repository[*auth.UserProfile] {
	return repository.NewRepository(db, repository.ModelHandlers[*auth.UserProfile]{
		NewRecord: func() *auth.UserProfile {
			return &auth.UserProfile{}
		},
		GetID: func(record *auth.UserProfile) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return stringID(record.ID)
		},
		SetID: func(record *auth.UserProfile, id uuid.UUID) {
			if record != nil {
				record.ID = id.String()
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})
}

// NewRefreshTokensRepository keys refresh tokens by the opaque token value,
// they have no uuid of their own.
func NewRefreshTokensRepository(db *bun.DB) repository.Repository[*RefreshToken] {
	return repository.NewRepository(db, repository.ModelHandlers[*RefreshToken]{
		NewRecord: func() *RefreshToken {
			return &RefreshToken{}
		},
		GetID: func(record *RefreshToken) uuid.UUID {
			return uuid.Nil
		},
		SetID: func(record *RefreshToken, id uuid.UUID) {},
		GetIdentifier: func() string {
			return "token"
		},
	})
}

// NewRecoveriesRepository keys one time tokens by their hash
func NewRecoveriesRepository(db *bun.DB) repository.Repository[*Recovery] {
	return repository.NewRepository(db, repository.ModelHandlers[*Recovery]{
		NewRecord: func() *Recovery {
			return &Recovery{}
		},
		GetID: func(record *Recovery) uuid.UUID {
			return uuid.Nil
		},
		SetID: func(record *Recovery, id uuid.UUID) {},
		GetIdentifier: func() string {
			return "token_hash"
		},
	})
}

type mngr struct {
	db            *bun.DB
	accounts      repository.Repository[*Account]
	profiles      repository.Repository[*auth.UserProfile]
	refreshTokens repository.Repository[*RefreshToken]
	recoveries    repository.Repository[*Recovery]
}

// NewRepositories builds every repository on db
func NewRepositories(db *bun.DB) Repositories {
	return &mngr{
		db:            db,
		accounts:      NewAccountsRepository(db),
		profiles:      NewProfilesRepository(db),
		refreshTokens: NewRefreshTokensRepository(db),
		recoveries:    NewRecoveriesRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}
	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}
	if m.refreshTokens == nil {
		return errors.New("repository refreshTokens should be initialized")
	}
	if m.recoveries == nil {
		return errors.New("repository recoveries should be initialized")
	}
	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Accounts() repository.Repository[*Account] {
	return m.accounts
}

func (m mngr) Profiles() repository.Repository[*auth.UserProfile] {
	return m.profiles
}

func (m mngr) RefreshTokens() repository.Repository[*RefreshToken] {
	return m.refreshTokens
}

func (m mngr) Recoveries() repository.Repository[*Recovery] {
	return m.recoveries
}
