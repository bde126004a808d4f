package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/abiosoft/readline"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/marcelocantos/pipesh/internal/config"
	"github.com/marcelocantos/pipesh/internal/jobs"
	"github.com/marcelocantos/pipesh/internal/journal"
	"github.com/marcelocantos/pipesh/internal/pipeline"
	"github.com/marcelocantos/pipesh/internal/shell"
)

// ExitError carries a process exit status out of a command.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// usageError marks bad flags or arguments.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// app is the state shared by every subcommand.
type app struct {
	version  string
	fs       afero.Fs
	stdin    *os.File
	stdout   *os.File
	stderr   *os.File
	cfgPath  string
	noColor  bool
	logLevel string
	command  string

	cfg    *config.Config
	logger *slog.Logger
}

// Execute runs the pipesh command line and returns the process exit status.
func Execute(ctx context.Context, version string, args []string) int {
	a := &app{
		version: version,
		fs:      afero.NewOsFs(),
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	return resolveError(a.stderr, root.ExecuteContext(ctx))
}

// resolveError turns a command's error into an exit status. An ExitError
// propagates its code silently; usage errors exit 2; anything else is
// reported and exits 1.
func resolveError(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	fmt.Fprintf(w, "pipesh: %v\n", err)
	var ue *usageError
	if errors.As(err, &ue) {
		return 2
	}
	return 1
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "pipesh",
		Short: "An interactive shell for pipelines, redirection and background jobs",
		Long: `pipesh reads command lines, runs the programs they name as
processes, connects them with pipes, redirects their input and output to
files, and tracks pipelines started in the background.`,
		Version:           a.version,
		Args:              cobra.NoArgs,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		RunE:              a.runShell,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "config file (default "+config.ConfigPath()+")")
	pf.BoolVar(&a.noColor, "no-color", false, "disable colored status lines")
	pf.StringVar(&a.logLevel, "log-level", "", "internal log level: debug, info, warn or error")
	root.Flags().StringVarP(&a.command, "command", "c", "", "run one command line and exit with its status")

	root.AddCommand(a.mcpCommand(), a.journalCommand(), a.versionCommand())
	return root
}

// setup loads the configuration and installs the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	path := a.cfgPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.LoadFrom(a.fs, path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a.cfg = cfg

	level := cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return &usageError{fmt.Errorf("--log-level: %w", err)}
	}
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: lvl}))
	return nil
}

func (a *app) newJobTable() *jobs.Table {
	return jobs.NewTable(
		jobs.WithKeepFinished(a.cfg.Jobs.KeepFinished),
		jobs.WithKillGrace(a.cfg.Jobs.KillGraceDuration()),
		jobs.WithLogger(a.logger.With("component", "jobs")),
	)
}

func (a *app) newExecutor(table *jobs.Table) *pipeline.Executor {
	e := pipeline.NewExecutor(table)
	e.Stdin, e.Stdout, e.Stderr = a.stdin, a.stdout, a.stderr
	e.Logger = a.logger.With("component", "pipeline")
	return e
}

// openJournal opens the configured journal. A journal that cannot be opened
// is reported and skipped; commands still run.
func (a *app) openJournal() *journal.Journal {
	if !a.cfg.Journal.Enabled {
		return nil
	}
	j, err := journal.Open(a.fs, a.cfg.Journal.Path)
	if err != nil {
		fmt.Fprintf(a.stderr, "pipesh: journal: %v\n", err)
		return nil
	}
	return j
}

func (a *app) colored() bool {
	if a.noColor {
		return false
	}
	return shell.ShouldColor(a.cfg.Shell.Color, readline.IsTerminal(int(a.stderr.Fd())))
}

func (a *app) runShell(cmd *cobra.Command, _ []string) error {
	sh, err := shell.New(shell.Options{
		Executor:     a.newExecutor(a.newJobTable()),
		Journal:      a.openJournal(),
		Aliases:      a.cfg.Aliases,
		Prompt:       a.cfg.Shell.Prompt,
		Color:        a.colored(),
		HistoryFile:  a.cfg.Shell.HistoryFile,
		HistoryLimit: a.cfg.Shell.HistoryLimit,
		Stdin:        a.stdin,
		Stdout:       a.stdout,
		Stderr:       a.stderr,
		Logger:       a.logger.With("component", "shell"),
	})
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("command") {
		if strings.TrimSpace(a.command) == "" {
			return nil
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return exitStatus(sh.RunLine(ctx, a.command))
	}

	// The terminal delivers SIGINT to the foreground pipeline as well; the
	// shell catches it instead of ignoring it so children start with the
	// default disposition.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer func() {
		signal.Stop(sigs)
		close(sigs)
	}()
	go func() {
		for range sigs {
		}
	}()

	code, err := sh.Run(cmd.Context())
	if err != nil {
		return err
	}
	return exitStatus(code)
}

func exitStatus(code int) error {
	if code == 0 {
		return nil
	}
	return &ExitError{Code: code}
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pipesh version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "pipesh %s\n", a.version)
			return nil
		},
	}
}
