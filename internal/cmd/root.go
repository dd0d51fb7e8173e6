// Package cmd holds the propertipro command line: the web server, schema
// migrations, account administration and a terminal sign in.
package cmd

import (
	"context"

	"github.com/propertipro/go-auth"
	"github.com/propertipro/go-auth/config"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	quiet      bool
	cfg        *config.Config
	logger     auth.Logger
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "propertipro",
		Short: "Properti Pro authentication service",
		Long: `propertipro runs the Properti Pro web front end and administers the
accounts of the built in identity provider.

Configuration is read from a YAML file, a .env file in the working
directory and PROPERTIPRO_* environment variables, in that order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = auth.DefaultLogger()
			if opts.quiet {
				opts.logger = quietLogger{}
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (YAML)")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "only log errors")

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newUsersCommand(opts),
		newWhoamiCommand(opts),
	)

	return root
}

// ExecuteContext runs the command line with ctx
func ExecuteContext(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}

func (quietLogger) Error(format string, args ...any) {
	auth.DefaultLogger().Error(format, args...)
}
