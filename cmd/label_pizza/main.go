package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"label_pizza/cmd/migration/versions"
	"label_pizza/utils/logging"
	"label_pizza/workspace/cascade"
	"label_pizza/workspace/config"
	"label_pizza/workspace/schema"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

type app struct {
	envFile string
	dbUri   string

	cfg     config.Config
	in      *bufio.Reader
	out     io.Writer
	logFile *os.File
	db      *gorm.DB
}

func newRootCommand(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: bufio.NewReader(in), out: out}

	root := &cobra.Command{
		Use:           "label_pizza",
		Short:         "Declarative management of video annotation workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.SetIn(in)
	root.SetOut(out)

	root.PersistentFlags().StringVar(&a.envFile, "env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	root.PersistentFlags().StringVar(&a.dbUri, "db", "", "Workspace store uri (postgres://... or sqlite:<path>), overrides DATABASE_URI.")

	root.AddCommand(
		a.initCommand(),
		a.resetCommand(),
		a.serveCommand(),
		a.syncCommand(),
		a.exportCommand(),
		a.compareCommand(),
		a.mergeCommand(),
		a.renameCommand(),
		a.removeCommand(),
		a.changeSchemaCommand(),
	)

	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	if a.envFile != "" {
		if err := config.LoadEnvFile(a.envFile); err != nil {
			return err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.dbUri != "" {
		cfg.DatabaseUri = a.dbUri
	}
	a.cfg = cfg

	opts := cfg.LoggingOptions()
	if cfg.LogFile != "" {
		logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
		if err != nil {
			return fmt.Errorf("error opening log file: %w", err)
		}
		a.logFile = logFile
		opts.File = logFile
		opts.Attrs = []slog.Attr{slog.String("command", cmd.Name())}
	}
	logging.Init(cmd.ErrOrStderr(), opts)

	return nil
}

func (a *app) close() error {
	if a.db != nil {
		if sqlDb, err := a.db.DB(); err == nil {
			sqlDb.Close()
		}
		a.db = nil
	}
	if a.logFile != nil {
		err := a.logFile.Close()
		a.logFile = nil
		return err
	}
	return nil
}

// openStore connects to the store without checking its schema version.
func (a *app) openStore() (*gorm.DB, error) {
	if err := a.cfg.Require(config.DatabaseUri); err != nil {
		return nil, err
	}
	db, err := schema.OpenDb(a.cfg.DatabaseUri, true)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

// openWorkspace connects to a store that has been initialized with 'init'.
func (a *app) openWorkspace() (*gorm.DB, error) {
	db, err := a.openStore()
	if err != nil {
		return nil, err
	}
	applied, err := versions.Applied(db)
	if err != nil {
		return nil, err
	}
	if len(applied) == 0 {
		return nil, fmt.Errorf("workspace store is not initialized, run 'label_pizza init' first")
	}
	return db, nil
}

func (a *app) ask(question string) bool {
	fmt.Fprintf(a.out, "%v [y/N]: ", question)
	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(a.out)
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// confirmer prints every plan and asks before executing it, unless yes is set.
func (a *app) confirmer(yes bool) cascade.Confirmer {
	return func(plan cascade.Plan) bool {
		fmt.Fprint(a.out, plan.String())
		if yes {
			return true
		}
		return a.ask("execute this plan?")
	}
}

func main() {
	if err := newRootCommand(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
