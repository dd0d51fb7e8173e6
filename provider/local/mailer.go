package local

import (
	"context"

	"github.com/propertipro/go-auth"
)

// Mailer delivers one time links to users
type Mailer interface {
	SendRecovery(ctx context.Context, email, link string) error
	SendConfirmation(ctx context.Context, email, link string) error
}

// LogMailer writes links to the logger instead of sending mail. It is the
// default for development.
type LogMailer struct {
	Logger auth.Logger
}

func (m LogMailer) SendRecovery(_ context.Context, email, link string) error {
	m.logger().Info("password recovery link", "email", email, "link", link)
	return nil
}

func (m LogMailer) SendConfirmation(_ context.Context, email, link string) error {
	m.logger().Info("email confirmation link", "email", email, "link", link)
	return nil
}

func (m LogMailer) logger() auth.Logger {
	if m.Logger == nil {
		return auth.DefaultLogger()
	}
	return m.Logger
}
