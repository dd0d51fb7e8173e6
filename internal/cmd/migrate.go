package cmd

import (
	"github.com/propertipro/go-auth/persistence"
	"github.com/propertipro/go-auth/provider/local"
	"github.com/spf13/cobra"
)

func newMigrateCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the built in provider schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := persistence.Open(root.cfg.Persistence)
			if err != nil {
				return err
			}
			defer db.Close()
			return persistence.Migrate(cmd.Context(), db, local.Migrations(), root.logger)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rollback",
		Short: "Roll back the last migration group",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := persistence.Open(root.cfg.Persistence)
			if err != nil {
				return err
			}
			defer db.Close()
			return persistence.Rollback(cmd.Context(), db, local.Migrations(), root.logger)
		},
	})

	return cmd
}
