package pipeline

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

type child struct {
	stage int
	proc  *os.Process
}

// build is the state of a pipeline whose processes have been created.
type build struct {
	children []child
	statuses []StageStatus
	pgid     int
}

// start allocates the N-1 pipes, wires every stage's stdio, and creates the
// processes in stage order. On a redirection or resource error no later
// stage is started; the returned build still lists the processes that were
// created so the caller can reap them. The parent holds no pipeline
// descriptor once start returns.
func (e *Executor) start(p *Pipeline) (b *build, err error) {
	n := len(p.Stages)
	fds := &fdTable{logger: e.logger()}
	defer func() {
		if cerr := fds.closeAll(); cerr != nil {
			e.logger().Warn("closing pipeline descriptors", "err", cerr)
		}
	}()

	b = &build{statuses: make([]StageStatus, n)}

	pipes := make([][2]*os.File, n-1)
	for i := range pipes {
		r, w, err := os.Pipe()
		if err != nil {
			return b, &ResourceError{Op: "pipe", Err: err}
		}
		fds.add(w, i, fmt.Sprintf("pipe %d write end", i))
		fds.add(r, i+1, fmt.Sprintf("pipe %d read end", i))
		pipes[i] = [2]*os.File{r, w}
	}

	for i, st := range p.Stages {
		stdin, stdout, err := e.wire(i, n, st, pipes, fds)
		if err != nil {
			return b, err
		}

		attr := &os.ProcAttr{
			Env:   e.env(),
			Files: []*os.File{stdin, stdout, e.stderr()},
		}
		if p.Background {
			attr.Sys = &syscall.SysProcAttr{Setpgid: true, Pgid: b.pgid}
		}

		proc, err := launch(i, st, attr)
		if rerr := fds.release(i); rerr != nil {
			e.logger().Warn("releasing stage descriptors", "stage", i, "err", rerr)
		}
		if err != nil {
			var le *LaunchError
			if errors.As(err, &le) {
				e.logger().Debug("launch failed", "stage", i, "program", le.Program, "code", le.Code)
				b.statuses[i] = StageStatus{ExitCode: le.Code, Launch: le}
				continue
			}
			return b, err
		}

		if p.Background && b.pgid == 0 {
			b.pgid = proc.Pid
		}
		b.children = append(b.children, child{stage: i, proc: proc})
		b.statuses[i].Pid = proc.Pid
	}
	return b, nil
}

// wire selects stage i's stdin and stdout. Pipe wiring always wins: an
// input redirect is honoured only on the first stage and an output
// redirect only on the last; interior redirects are never opened.
func (e *Executor) wire(i, n int, st Stage, pipes [][2]*os.File, fds *fdTable) (stdin, stdout *os.File, err error) {
	stdin, stdout = e.stdin(), e.stdout()

	switch {
	case i > 0:
		stdin = pipes[i-1][0]
		if st.In != "" {
			e.logger().Debug("pipe overrides input redirect", "stage", i, "path", st.In)
		}
	case st.In != "":
		f, err := openInput(i, st.In)
		if err != nil {
			return nil, nil, err
		}
		fds.add(f, i, "stdin redirect")
		stdin = f
	}

	switch {
	case i < n-1:
		stdout = pipes[i][1]
		if st.Out != "" {
			e.logger().Debug("pipe overrides output redirect", "stage", i, "path", st.Out)
		}
	case st.Out != "":
		f, err := openOutput(i, st.Out, st.Append)
		if err != nil {
			return nil, nil, err
		}
		fds.add(f, i, "stdout redirect")
		stdout = f
	}
	return stdin, stdout, nil
}
