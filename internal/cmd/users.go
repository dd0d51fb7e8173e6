package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goliatone/go-print"
	"github.com/propertipro/go-auth"
	"github.com/propertipro/go-auth/activitymap"
	"github.com/propertipro/go-auth/provider/local"
	"github.com/spf13/cobra"
)

// cliActor is recorded as the actor of transitions made from the terminal
var cliActor = auth.ActorRef{ID: "cli", Type: "system"}

func newUsersCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Administer accounts of the built in provider",
	}

	cmd.AddCommand(
		newUsersCreateCommand(root),
		newUsersListCommand(root),
		newUsersSetRoleCommand(root),
		newUsersTransitionCommand(root, "suspend", "Suspend an account and revoke its sessions", auth.UserStatusSuspended, true),
		newUsersTransitionCommand(root, "deactivate", "Deactivate an account and revoke its sessions", auth.UserStatusInactive, true),
		newUsersTransitionCommand(root, "reinstate", "Reactivate a suspended or inactive account", auth.UserStatusActive, false),
	)

	return cmd
}

// withLocal opens the built in provider for the duration of fn
func withLocal(root *rootOptions, fn func(svc *local.Service) error) error {
	st, err := newStack(root.cfg, root.logger, auth.NewMemorySessionStorage())
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := st.requireLocal()
	if err != nil {
		return err
	}
	return fn(svc)
}

func newUsersCreateCommand(root *rootOptions) *cobra.Command {
	var (
		email, password, name, phone, role string
		unconfirmed                        bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		Example: `  propertipro users create --email admin@propertipro.id --name "Admin" --role admin
  PROPERTIPRO_PASSWORD=... propertipro users create --email agen@propertipro.id --role agent`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("PROPERTIPRO_PASSWORD")
			}
			if password == "" {
				return fmt.Errorf("password is required, use --password or PROPERTIPRO_PASSWORD")
			}

			r, err := parseRole(role)
			if err != nil {
				return err
			}

			return withLocal(root, func(svc *local.Service) error {
				profile, err := svc.CreateUser(cmd.Context(), email, password, auth.SignUpAttributes{
					FullName: name,
					Phone:    phone,
					Role:     r,
				}, !unconfirmed)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), print.MaybePrettyJSON(profile))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleUser), "role: user, agent, admin or superadmin")
	cmd.Flags().BoolVar(&unconfirmed, "unconfirmed", false, "require email confirmation before sign in")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newUsersListCommand(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List account profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(root, func(svc *local.Service) error {
				profiles, err := svc.Store().ListProfiles(cmd.Context(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), print.MaybePrettyJSON(profiles))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newUsersSetRoleCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-role <email> <role>",
		Short: "Change the role of an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := parseRole(args[1])
			if err != nil {
				return err
			}

			return withLocal(root, func(svc *local.Service) error {
				profile, err := svc.FindProfileByEmail(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				updated, err := svc.SetRole(cmd.Context(), profile.ID, role)
				if err != nil {
					return err
				}
				root.logger.Info("role changed", "user_id", updated.ID, "from", profile.Role, "to", updated.Role)
				fmt.Fprintln(cmd.OutOrStdout(), print.MaybePrettyJSON(updated))
				return nil
			})
		},
	}
}

func newUsersTransitionCommand(root *rootOptions, use, short string, target auth.UserStatus, revoke bool) *cobra.Command {
	var (
		reason string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   use + " <email>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(root, func(svc *local.Service) error {
				updated, err := transitionUser(cmd.Context(), root.logger, svc, args[0], target, reason, force)
				if err != nil {
					return err
				}
				if revoke {
					if err := svc.RevokeAll(cmd.Context(), updated.ID); err != nil {
						return fmt.Errorf("revoke sessions: %w", err)
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), print.MaybePrettyJSON(updated))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the change")
	cmd.Flags().BoolVar(&force, "force", false, "skip the transition rules")
	return cmd
}

func transitionUser(ctx context.Context, logger auth.Logger, svc *local.Service, email string, target auth.UserStatus, reason string, force bool) (*auth.UserProfile, error) {
	profile, err := svc.FindProfileByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	sm := auth.NewProfileStateMachine(svc.Store(),
		auth.WithStateMachineLogger(logger),
		auth.WithStateMachineActivitySink(activitymap.NewLogSink(logger, activitymap.WithChannel("cli"))),
	)

	opts := []auth.TransitionOption{auth.WithTransitionReason(reason)}
	if force {
		opts = append(opts, auth.WithForceTransition())
	}

	return sm.Transition(ctx, cliActor, profile, target, opts...)
}

func parseRole(value string) (auth.UserRole, error) {
	role := auth.UserRole(strings.ToLower(strings.TrimSpace(value)))
	if !role.IsValid() {
		return "", fmt.Errorf("unknown role %q", value)
	}
	return role, nil
}
