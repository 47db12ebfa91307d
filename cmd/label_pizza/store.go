package main

import (
	"fmt"

	"label_pizza/cmd/migration/versions"
	"label_pizza/workspace/auth"

	"github.com/spf13/cobra"
)

func (a *app) initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or migrate the workspace store",
		Long: `Runs the schema migrations against the store. When ADMIN_USER_ID, ADMIN_EMAIL
and ADMIN_PASSWORD are set the bootstrap admin is created as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openStore()
			if err != nil {
				return err
			}

			if err := versions.Migrate(db); err != nil {
				return err
			}

			if a.cfg.AdminUserId != "" && a.cfg.AdminPassword != "" {
				err := auth.AddInitialAdmin(db, auth.InitialAdmin{
					UserId:   a.cfg.AdminUserId,
					Email:    a.cfg.AdminEmail,
					Password: a.cfg.AdminPassword,
				})
				if err != nil {
					return err
				}
			}

			fmt.Fprintln(a.out, "workspace store initialized")
			return nil
		},
	}
}

func (a *app) resetCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop every table of the workspace store and migrate it again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openStore()
			if err != nil {
				return err
			}

			if !yes && !a.ask("this deletes every record in the workspace store, continue?") {
				fmt.Fprintln(a.out, "reset cancelled")
				return nil
			}

			if err := versions.Reset(db); err != nil {
				return err
			}

			fmt.Fprintln(a.out, "workspace store reset")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation.")

	return cmd
}
