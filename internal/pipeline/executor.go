package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"syscall"

	"github.com/marcelocantos/pipesh/internal/jobs"
)

// Executor runs parsed pipelines as OS processes. Unredirected stdio of the
// first and last stage, and stderr of every stage, come from the Executor's
// files.
type Executor struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
	Env    []string // nil inherits the orchestrator's environment; programs are looked up on its PATH
	Jobs   *jobs.Table
	Logger *slog.Logger
}

// NewExecutor returns an executor wired to the process's own stdio that
// registers background pipelines in table.
func NewExecutor(table *jobs.Table) *Executor {
	return &Executor{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Jobs:   table,
	}
}

// WithIO returns a copy of e using the given files for stdio. The job table
// is shared.
func (e *Executor) WithIO(stdin, stdout, stderr *os.File) *Executor {
	c := *e
	c.Stdin, c.Stdout, c.Stderr = stdin, stdout, stderr
	return &c
}

// Execute runs p. A foreground pipeline blocks until every one of its
// processes has exited; a background pipeline returns as soon as its
// processes exist and is registered in the job table.
//
// Programs that cannot be launched are reported through Result, never as an
// error. A *RedirectionError or *ResourceError aborts the pipeline: stages
// after the failing one are not started and the ones already started are
// reaped. The partial Result is returned alongside the error.
func (e *Executor) Execute(ctx context.Context, p *Pipeline) (*Result, error) {
	if p == nil || len(p.Stages) == 0 {
		return nil, errors.New("empty pipeline")
	}
	if p.Background && e.Jobs == nil {
		return nil, errors.New("background execution needs a job table")
	}

	b, err := e.start(p)
	res := &Result{Statuses: b.statuses, Background: p.Background}
	if err != nil {
		markAborted(res)
		if p.Background {
			e.detach(p, b, res)
		} else {
			e.wait(ctx, b.children, res)
		}
		return res, err
	}

	if p.Background {
		e.detach(p, b, res)
		return res, nil
	}
	e.wait(ctx, b.children, res)
	return res, nil
}

// wait reaps the foreground processes of one pipeline. Cancelling ctx kills
// them.
func (e *Executor) wait(ctx context.Context, children []child, res *Result) {
	stop := context.AfterFunc(ctx, func() {
		for _, c := range children {
			_ = c.proc.Kill()
		}
	})
	defer stop()

	for _, c := range children {
		state, err := c.proc.Wait()
		if err != nil {
			e.logger().Warn("wait failed", "pid", c.proc.Pid, "err", err)
			res.Statuses[c.stage].ExitCode = ExitLaunchFailed
			continue
		}
		res.Statuses[c.stage].ExitCode = exitStatus(state)
	}
}

// detach hands a background pipeline's processes to the job table. The
// *os.Process handles are released; from here on the job table reaps them.
func (e *Executor) detach(p *Pipeline, b *build, res *Result) {
	if len(b.children) == 0 {
		return
	}
	pids := make([]int, 0, len(b.children))
	for _, c := range b.children {
		pids = append(pids, c.proc.Pid)
		_ = c.proc.Release()
	}
	job := e.Jobs.Register(p.String(), b.pgid, pids)
	res.Job = &job
}

// markAborted gives stages that never ran a failing status.
func markAborted(res *Result) {
	for i := range res.Statuses {
		s := &res.Statuses[i]
		if s.Pid == 0 && s.Launch == nil {
			s.ExitCode = ExitLaunchFailed
		}
	}
}

func exitStatus(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

func (e *Executor) stdin() *os.File {
	if e.Stdin != nil {
		return e.Stdin
	}
	return os.Stdin
}

func (e *Executor) stdout() *os.File {
	if e.Stdout != nil {
		return e.Stdout
	}
	return os.Stdout
}

func (e *Executor) stderr() *os.File {
	if e.Stderr != nil {
		return e.Stderr
	}
	return os.Stderr
}

func (e *Executor) env() []string {
	if e.Env != nil {
		return e.Env
	}
	return os.Environ()
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.New(slog.DiscardHandler)
}
