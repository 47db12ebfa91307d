package main

import (
	"errors"
	"fmt"
	"log/slog"

	"label_pizza/utils/logging"
	"label_pizza/workspace/cascade"
	"label_pizza/workspace/identity"
	"label_pizza/workspace/keys"
	"label_pizza/workspace/schema"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func (a *app) renameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <entity> <old> <new>",
		Short: "Change the natural key of a video, user, question, group, schema, project or project group",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := schema.ParseEntityType(args[0])
			if err != nil {
				return err
			}

			db, err := a.openWorkspace()
			if err != nil {
				return err
			}

			err = db.Transaction(func(txn *gorm.DB) error {
				_, err := identity.Rename(txn, entity, args[1], args[2])
				return err
			})
			if err != nil {
				return err
			}

			slog.Info("renamed entity", "entity", entity, "old_key", args[1], "new_key", args[2], "code", logging.RENAME)
			fmt.Fprintf(a.out, "renamed %v '%v' to '%v'\n", entity, args[1], args[2])
			return nil
		},
	}
}

// runPlan executes a planned cascade and reports a declined plan as a
// cancellation rather than a failure.
func (a *app) runPlan(what string, run func(confirm cascade.Confirmer) (cascade.Plan, error), yes, dryRun bool) error {
	confirm := a.confirmer(yes)
	if dryRun {
		confirm = func(plan cascade.Plan) bool {
			fmt.Fprint(a.out, plan.String())
			return false
		}
	}

	plan, err := run(confirm)
	if errors.Is(err, schema.ErrCascadeNotConfirmed) {
		if !dryRun {
			fmt.Fprintf(a.out, "%v cancelled\n", what)
		}
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%v executed, %d steps\n", what, len(plan.Steps))
	return nil
}

func (a *app) removeCommand() *cobra.Command {
	var yes, dryRun bool

	cmd := &cobra.Command{
		Use:   "remove <entity> <key>...",
		Short: "Remove a record together with everything that depends on it",
		Long: `Plans the cascade of deletions and archivals, prints it, and executes it after
confirmation. Composite keys are given as separate arguments, for example
'remove assignment alice project-1 annotator'.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := schema.ParseEntityType(args[0])
			if err != nil {
				return err
			}
			arity, err := identity.Arity(entity)
			if err != nil {
				return err
			}
			if len(args)-1 != arity {
				return fmt.Errorf("%v keys have %d parts, got %d", entity, arity, len(args)-1)
			}
			key := keys.New(args[1:]...)

			db, err := a.openWorkspace()
			if err != nil {
				return err
			}

			return a.runPlan("removal", func(confirm cascade.Confirmer) (cascade.Plan, error) {
				return cascade.Remove(db, entity, key, confirm)
			}, yes, dryRun)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Execute the plan without asking.")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only print the plan.")

	return cmd
}

func (a *app) changeSchemaCommand() *cobra.Command {
	var yes, dryRun bool

	cmd := &cobra.Command{
		Use:   "change-schema <project> <schema>",
		Short: "Replace the schema of a project, deleting its answers and ground truth",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openWorkspace()
			if err != nil {
				return err
			}

			return a.runPlan("schema change", func(confirm cascade.Confirmer) (cascade.Plan, error) {
				return cascade.ChangeSchema(db, args[0], args[1], confirm)
			}, yes, dryRun)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Execute the plan without asking.")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only print the plan.")

	return cmd
}
