package main

import (
	"encoding/json"
	"fmt"
	"os"

	"label_pizza/workspace/merge"
	"label_pizza/workspace/records"
	"label_pizza/workspace/syncer"

	"github.com/spf13/cobra"
)

func checkFormat(format string) error {
	if format != "json" && format != "yaml" {
		return fmt.Errorf("invalid format '%v', must be 'json' or 'yaml'", format)
	}
	return nil
}

func parseCollections(names []string) ([]records.Collection, error) {
	collections := make([]records.Collection, 0, len(names))
	for _, name := range names {
		c, err := records.ParseCollection(name)
		if err != nil {
			return nil, err
		}
		collections = append(collections, c)
	}
	return collections, nil
}

func (a *app) printJson(v interface{}) error {
	encoder := json.NewEncoder(a.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (a *app) syncCommand() *cobra.Command {
	var (
		dryRun     bool
		yes        bool
		collection string
		asJson     bool
	)

	cmd := &cobra.Command{
		Use:   "sync <dir>",
		Short: "Apply a directory of declarative collection files to the store",
		Long: `Syncs every collection file found in the directory (videos.json, users.yaml,
question_groups/, ...) in dependency order. With --collection the argument is
the file or directory holding that single collection. Archiving a record that
others depend on shows the cascade plan and asks for confirmation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openWorkspace()
			if err != nil {
				return err
			}

			s := syncer.New(db, syncer.Options{DryRun: dryRun, Confirm: a.confirmer(yes)})

			var results []syncer.Result
			if collection != "" {
				c, err := records.ParseCollection(collection)
				if err != nil {
					return err
				}
				result, err := s.SyncFile(c, args[0])
				if err != nil {
					return err
				}
				results = []syncer.Result{result}
			} else {
				results, err = s.SyncDir(args[0])
				if err != nil {
					return err
				}
			}

			if asJson {
				if err := a.printJson(results); err != nil {
					return err
				}
			} else {
				a.printResults(results, dryRun)
			}

			failures := 0
			for _, result := range results {
				failures += len(result.Errors)
			}
			if failures > 0 {
				return fmt.Errorf("%d records failed to sync", failures)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report the changes without applying them.")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm every archival cascade without asking.")
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Sync a single collection from the given file or directory.")
	cmd.Flags().BoolVar(&asJson, "json", false, "Print the results as json.")

	return cmd
}

func (a *app) printResults(results []syncer.Result, dryRun bool) {
	if dryRun {
		fmt.Fprintln(a.out, "dry run, no changes were applied")
	}
	for _, result := range results {
		fmt.Fprintln(a.out, result.String())
		for _, skipped := range result.Skipped {
			fmt.Fprintf(a.out, "  skipped %v: %v\n", skipped.Key, skipped.Reason)
		}
		for _, err := range result.Errors {
			fmt.Fprintf(a.out, "  error %v\n", err)
		}
	}
}

func (a *app) exportCommand() *cobra.Command {
	var (
		format      string
		collections []string
	)

	cmd := &cobra.Command{
		Use:   "export <dir>",
		Short: "Write the store as declarative collection files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			selected, err := parseCollections(collections)
			if err != nil {
				return err
			}

			db, err := a.openWorkspace()
			if err != nil {
				return err
			}

			if err := os.MkdirAll(args[0], 0777); err != nil {
				return fmt.Errorf("error creating export directory: %w", err)
			}

			if err := syncer.ExportDir(db, args[0], format, selected...); err != nil {
				return err
			}

			fmt.Fprintf(a.out, "exported workspace to %v\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json, yaml.")
	cmd.Flags().StringSliceVarP(&collections, "collection", "c", nil, "Collections to export, defaults to all.")

	return cmd
}

func (a *app) compareCommand() *cobra.Command {
	var (
		store  bool
		asJson bool
	)

	cmd := &cobra.Command{
		Use:   "compare <left-dir> [right-dir]",
		Short: "Report the differences between two declarative states",
		Long: `Compares two workspace directories collection by collection. With --store the
store is the left side and the single directory argument is the right side.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				reports []merge.DiffReport
				err     error
			)

			if store {
				if len(args) != 1 {
					return fmt.Errorf("--store compares against exactly one directory")
				}
				db, err := a.openWorkspace()
				if err != nil {
					return err
				}
				reports, err = merge.CompareStoreDir(db, args[0])
				if err != nil {
					return err
				}
			} else {
				if len(args) != 2 {
					return fmt.Errorf("compare requires two directories, or one with --store")
				}
				reports, err = merge.CompareDirs(args[0], args[1])
				if err != nil {
					return err
				}
			}

			if asJson {
				return a.printJson(reports)
			}

			for _, report := range reports {
				fmt.Fprintln(a.out, report.String())
				for _, key := range report.LeftOnly {
					fmt.Fprintf(a.out, "  - %v\n", key)
				}
				for _, key := range report.RightOnly {
					fmt.Fprintf(a.out, "  + %v\n", key)
				}
				for _, diff := range report.Differing {
					fmt.Fprintf(a.out, "  ~ %v %v\n", diff.Key, diff.Fields)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&store, "store", false, "Compare the store with the given directory.")
	cmd.Flags().BoolVar(&asJson, "json", false, "Print the reports as json.")

	return cmd
}

func (a *app) mergeCommand() *cobra.Command {
	var (
		precedence string
		format     string
	)

	cmd := &cobra.Command{
		Use:   "merge <left-dir> <right-dir> <out-dir>",
		Short: "Merge two declarative states into a new directory",
		Long: `Merges every collection found in either directory. Records present on both
sides with different content are taken from the side named by --precedence.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			side, err := merge.ParseSide(precedence)
			if err != nil {
				return err
			}
			if err := checkFormat(format); err != nil {
				return err
			}

			if err := os.MkdirAll(args[2], 0777); err != nil {
				return fmt.Errorf("error creating output directory: %w", err)
			}

			reports, err := merge.MergeDirs(args[0], args[1], side, args[2], format)
			if err != nil {
				return err
			}

			for _, report := range reports {
				fmt.Fprintln(a.out, report.String())
				for _, key := range report.ConflictKeys {
					fmt.Fprintf(a.out, "  conflict %v\n", key)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&precedence, "precedence", "p", "", "Side that wins conflicts: left, right.")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json, yaml.")
	cmd.MarkFlagRequired("precedence")

	return cmd
}
