package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goliatone/go-print"
	"github.com/propertipro/go-auth"
	"github.com/propertipro/go-auth/storage"
	"github.com/spf13/cobra"
)

type whoamiOptions struct {
	email    string
	password string
	profile  string
	signOut  bool
	refresh  bool
	timeout  time.Duration
}

func newWhoamiCommand(root *rootOptions) *cobra.Command {
	opts := &whoamiOptions{}

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Sign in from the terminal and print the auth state",
		Long: `Print the auth state of a terminal profile.

The session is kept in the configured storage path, one file per profile,
so later calls reuse it. Pass --email to sign in, --sign-out to end the
session.

Example:
  PROPERTIPRO_PASSWORD=... propertipro whoami --email admin@propertipro.id
  propertipro whoami
  propertipro whoami --refresh
  propertipro whoami --sign-out`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhoami(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.email, "email", "", "sign in with this email")
	cmd.Flags().StringVar(&opts.password, "password", "", "password (default $PROPERTIPRO_PASSWORD)")
	cmd.Flags().StringVar(&opts.profile, "profile", "default", "terminal profile name")
	cmd.Flags().BoolVar(&opts.signOut, "sign-out", false, "end the stored session")
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "refresh the stored session")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "give up after this long")

	return cmd
}

func runWhoami(cmd *cobra.Command, root *rootOptions, opts *whoamiOptions) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	sessions, err := storage.NewFileStorage(root.cfg.Storage.Path)
	if err != nil {
		return err
	}

	st, err := newStack(root.cfg, root.logger, sessions)
	if err != nil {
		return err
	}
	defer st.Close()

	provider, profiles := st.client(opts.profile)
	m := auth.NewManager(provider, profiles, root.cfg, auth.WithManagerLogger(root.logger))
	defer m.Close()

	if err := m.Start(ctx); err != nil {
		return err
	}

	switch {
	case opts.signOut:
		if err := m.SignOut(ctx); err != nil {
			m.ForceSignOut(ctx)
		}
	case opts.email != "":
		password := opts.password
		if password == "" {
			password = os.Getenv("PROPERTIPRO_PASSWORD")
		}
		if password == "" {
			return fmt.Errorf("password is required, use --password or PROPERTIPRO_PASSWORD")
		}
		if err := m.SignIn(ctx, opts.email, password); err != nil {
			return err
		}
	case opts.refresh:
		if err := m.RefreshSession(ctx); err != nil {
			return err
		}
	}

	state, err := m.WaitSettled(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), print.MaybePrettyJSON(whoamiView(state)))
	return nil
}

type whoamiReport struct {
	Phase         auth.Phase `json:"phase"`
	Authenticated bool       `json:"authenticated"`
	Admin         bool       `json:"admin"`
	User          *auth.User `json:"user,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Error         string     `json:"error,omitempty"`
}

func whoamiView(state auth.AuthState) whoamiReport {
	report := whoamiReport{
		Phase:         state.Phase(),
		Authenticated: state.IsAuthenticated,
		Admin:         state.IsAdmin(),
		User:          state.User,
		Error:         state.Error,
	}
	if state.Session != nil && !state.Session.ExpiresAt.IsZero() {
		exp := state.Session.ExpiresAt
		report.ExpiresAt = &exp
	}
	return report
}
