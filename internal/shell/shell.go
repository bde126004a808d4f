package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/abiosoft/readline"

	"github.com/marcelocantos/pipesh/internal/jobs"
	"github.com/marcelocantos/pipesh/internal/journal"
	"github.com/marcelocantos/pipesh/internal/pipeline"
)

// ExitSyntax is the status of a line that does not parse.
const ExitSyntax = 2

// Options configures a Shell.
type Options struct {
	Executor     *pipeline.Executor // required; its job table is the shell's
	Journal      *journal.Journal   // nil disables the journal
	Aliases      map[string]string
	Prompt       string // template; empty for user@host:dir$
	Color        bool
	HistoryFile  string
	HistoryLimit int
	Stdin        io.ReadCloser // nil means os.Stdin
	Stdout       io.Writer     // builtin output; nil means os.Stdout
	Stderr       io.Writer     // status lines; nil means os.Stderr
	Logger       *slog.Logger
}

// Shell is the interactive command interpreter: it reads lines, expands
// aliases, runs builtins and hands everything else to the executor.
type Shell struct {
	exec    *pipeline.Executor
	jobs    *jobs.Table
	parser  *pipeline.Parser
	journal *journal.Journal
	report  *Reporter
	logger  *slog.Logger

	stdin  io.ReadCloser
	stdout io.Writer
	stderr io.Writer

	aliases  aliases
	history  []string
	prompt   string
	colored  bool
	histFile string
	histMax  int
	rl       *readline.Instance

	status   int
	exited   bool
	builtins map[string]builtin
}

// New creates a shell.
func New(opts Options) (*Shell, error) {
	if opts.Executor == nil || opts.Executor.Jobs == nil {
		return nil, errors.New("shell needs an executor with a job table")
	}
	s := &Shell{
		exec:     opts.Executor,
		jobs:     opts.Executor.Jobs,
		parser:   &pipeline.Parser{Expand: filepath.Glob},
		journal:  opts.Journal,
		logger:   opts.Logger,
		stdin:    opts.Stdin,
		stdout:   opts.Stdout,
		stderr:   opts.Stderr,
		aliases:  aliases{},
		prompt:   opts.Prompt,
		colored:  opts.Color,
		histFile: opts.HistoryFile,
		histMax:  opts.HistoryLimit,
		builtins: builtins(),
	}
	if s.stdin == nil {
		s.stdin = os.Stdin
	}
	if s.stdout == nil {
		s.stdout = os.Stdout
	}
	if s.stderr == nil {
		s.stderr = os.Stderr
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	for name, text := range opts.Aliases {
		s.aliases[name] = text
	}
	s.report = NewReporter(s.stderr, s.colored)
	return s, nil
}

// Run reads and executes lines until end of input or the exit builtin. It
// returns the status the process should exit with.
func (s *Shell) Run(ctx context.Context) (int, error) {
	if s.histFile != "" {
		if err := os.MkdirAll(filepath.Dir(s.histFile), 0700); err != nil {
			s.logger.Warn("history directory", "err", err)
		}
	}
	cfg := &readline.Config{
		Prompt:          s.Prompt(),
		HistoryFile:     s.histFile,
		HistoryLimit:    s.histMax,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           readline.NewCancelableStdin(byteReader{s.stdin}),
		Stdout:          s.stdout,
		Stderr:          s.stderr,
	}
	if f, ok := s.stdin.(*os.File); ok {
		term := &terminal{fd: int(f.Fd())}
		cfg.FuncIsTerminal = term.isTerminal
		cfg.FuncMakeRaw = term.makeRaw
		cfg.FuncExitRaw = term.restore
	}
	rl, err := readline.NewEx(cfg)
	if err != nil {
		return 1, fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()
	s.rl = rl

	for !s.exited {
		if ctx.Err() != nil {
			return s.status, ctx.Err()
		}
		s.announceFinished()
		rl.SetPrompt(s.Prompt())

		line, err := rl.Readline()
		switch {
		case errors.Is(err, io.EOF):
			s.report.Info("Goodbye!")
			return s.status, nil
		case errors.Is(err, readline.ErrInterrupt):
			if strings.TrimSpace(line) == "" {
				s.report.Info("Interrupted. Type 'exit' to quit.")
			}
			continue
		case err != nil:
			return 1, fmt.Errorf("readline: %w", err)
		}
		s.RunLine(ctx, line)
	}
	return s.status, nil
}

// Prompt renders the prompt for the current working directory.
func (s *Shell) Prompt() string {
	return renderPrompt(s.prompt, currentPromptEnv(), s.colored)
}

// Exited reports whether the exit builtin has run.
func (s *Shell) Exited() bool {
	return s.exited
}

// RunLine executes one input line and returns its status. Errors are
// reported to the user; they never stop the shell.
func (s *Shell) RunLine(ctx context.Context, line string) int {
	if strings.TrimSpace(line) == "" {
		return s.status
	}
	s.history = append(s.history, line)

	expanded := s.aliases.expand(line)
	p, err := s.parser.Parse(expanded)
	if err != nil {
		s.report.Error("%v", err)
		s.status = ExitSyntax
		return s.status
	}
	if p == nil {
		return s.status
	}

	if b, ok := s.builtinFor(p); ok {
		s.status = b(s, p.Stages[0].Args)
		return s.status
	}

	start := time.Now()
	res, err := s.exec.Execute(ctx, p)
	s.status = s.reportResult(p, res, err)
	s.record(expanded, p, res, err, time.Since(start))
	return s.status
}

// builtinFor returns the builtin for p, if p is a plain single command
// naming one. Anything piped, redirected or backgrounded runs as a program.
func (s *Shell) builtinFor(p *pipeline.Pipeline) (builtin, bool) {
	if len(p.Stages) != 1 || p.Background {
		return nil, false
	}
	st := p.Stages[0]
	if st.In != "" || st.Out != "" {
		return nil, false
	}
	b, ok := s.builtins[st.Name()]
	return b, ok
}

func (s *Shell) reportResult(p *pipeline.Pipeline, res *pipeline.Result, err error) int {
	name := commandName(p)
	if res != nil {
		for _, st := range res.Statuses {
			if st.Launch != nil {
				s.reportLaunch(st.Launch)
			}
		}
	}

	var re *pipeline.RedirectionError
	var rse *pipeline.ResourceError
	switch {
	case errors.As(err, &re):
		s.report.Error("Cannot redirect '%s': %v", re.Path, re.Err)
		return pipeline.ExitLaunchFailed
	case errors.As(err, &rse):
		s.report.Error("Execution error: %v", rse)
		return pipeline.ExitLaunchFailed
	case err != nil:
		s.report.Error("Execution error: %v", err)
		return pipeline.ExitLaunchFailed
	}

	if res.Background {
		if res.Job != nil {
			s.report.Info("Command '%s' running in background [%d] (PID: %d).", name, res.Job.Slot, res.Job.Pid())
		}
		return res.ExitCode()
	}

	code := res.ExitCode()
	last := res.Statuses[len(res.Statuses)-1]
	switch {
	case code == 0:
		s.report.Success("Command '%s' completed.", name)
	case last.Launch == nil:
		s.report.Error("Command '%s' failed with exit code %d.", name, code)
	}
	return code
}

func (s *Shell) reportLaunch(le *pipeline.LaunchError) {
	switch le.Code {
	case pipeline.ExitNotFound:
		s.report.Error("Command '%s' not found. Check PATH.", le.Program)
	case pipeline.ExitNotExecutable:
		s.report.Error("Permission denied for command '%s'.", le.Program)
	default:
		s.report.Error("Execution error: %v", le)
	}
}

func (s *Shell) record(line string, p *pipeline.Pipeline, res *pipeline.Result, err error, d time.Duration) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Log(journal.NewRecord(line, p, res, err, s.status, d)); err != nil {
		s.logger.Warn("journal write failed", "err", err)
	}
}

// announceFinished reports background jobs that finished since the last
// prompt.
func (s *Shell) announceFinished() {
	for _, j := range s.jobs.Notify() {
		s.report.Info("[%d] %s %s", j.Slot, j.Status(), j.Command)
	}
}

func commandName(p *pipeline.Pipeline) string {
	names := make([]string, len(p.Stages))
	for i, st := range p.Stages {
		names[i] = st.Name()
	}
	return strings.Join(names, " | ")
}

// byteReader hands readline one byte per Read. readline stops reading at the
// end of each line until the next prompt, so nothing typed after a line is
// buffered by the shell: it stays in stdin for the foreground pipeline.
type byteReader struct {
	r io.Reader
}

func (b byteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return b.r.Read(p)
}

// terminal switches the shell's own input in and out of raw mode while a
// line is edited. Input that is not a terminal is left alone.
type terminal struct {
	fd    int
	state *readline.State
}

func (t *terminal) isTerminal() bool {
	return readline.IsTerminal(t.fd)
}

func (t *terminal) makeRaw() error {
	if !t.isTerminal() {
		return nil
	}
	state, err := readline.MakeRaw(t.fd)
	if err != nil {
		return err
	}
	t.state = state
	return nil
}

func (t *terminal) restore() error {
	if t.state == nil {
		return nil
	}
	state := t.state
	t.state = nil
	return readline.Restore(t.fd, state)
}
