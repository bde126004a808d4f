package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/marcelocantos/pipesh/internal/jobs"
	"github.com/marcelocantos/pipesh/internal/journal"
	"github.com/marcelocantos/pipesh/internal/pipeline"
	"github.com/marcelocantos/pipesh/internal/shell"
)

// maxToolOutput caps the output returned from one run_pipeline call.
const maxToolOutput = 64 << 10

func (a *app) mcpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve pipeline tools over MCP on stdio",
		Long: `Runs an MCP server on stdin/stdout exposing run_pipeline, list_jobs
and kill_job. Pipelines run with the server's working directory and
environment; their output is returned in the tool result.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ts := &toolServer{
				exec:    a.newExecutor(a.newJobTable()),
				parser:  &pipeline.Parser{Expand: filepath.Glob},
				journal: a.openJournal(),
				logger:  a.logger.With("component", "mcp"),
			}
			return server.ServeStdio(ts.server(a.version))
		},
	}
}

// toolServer exposes the executor and job table as MCP tools.
type toolServer struct {
	exec    *pipeline.Executor
	parser  *pipeline.Parser
	journal *journal.Journal
	logger  *slog.Logger
}

func (ts *toolServer) server(version string) *server.MCPServer {
	s := server.NewMCPServer("pipesh", version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("run_pipeline",
		mcp.WithDescription("Run a command line: programs joined by |, with < > >> redirections and an optional trailing &. Returns the exit status and combined output."),
		mcp.WithString("command", mcp.Required(), mcp.Description("command line to run")),
		mcp.WithBoolean("background", mcp.Description("run in the background, same as a trailing &")),
	), ts.runPipeline)

	s.AddTool(mcp.NewTool("list_jobs",
		mcp.WithDescription("List background jobs as [slot] pid state command."),
	), ts.listJobs)

	s.AddTool(mcp.NewTool("kill_job",
		mcp.WithDescription("Send a signal to a background job's process group."),
		mcp.WithNumber("slot", mcp.Required(), mcp.Description("job slot as shown by list_jobs")),
		mcp.WithString("signal", mcp.Description("signal name, default TERM")),
	), ts.killJob)

	return s
}

func (ts *toolServer) runPipeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	line, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := ts.parser.Parse(line)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if p == nil {
		return mcp.NewToolResultError("empty command"), nil
	}
	if req.GetBool("background", false) {
		p.Background = true
	}

	devnull, err := os.Open(os.DevNull)
	if err != nil {
		return nil, err
	}
	defer devnull.Close()

	start := time.Now()
	var res *pipeline.Result
	var out cappedBuffer
	if p.Background {
		res, err = ts.exec.WithIO(devnull, devnull, devnull).Execute(ctx, p)
	} else {
		res, err = ts.captured(ctx, p, devnull, &out)
	}
	code := statusOf(res, err)
	ts.record(line, p, res, err, code, time.Since(start))

	var b strings.Builder
	if err != nil {
		fmt.Fprintf(&b, "error: %v\n", err)
	}
	if res != nil {
		if le := res.LaunchFailure(); le != nil {
			fmt.Fprintf(&b, "error: %v\n", le)
		}
		if res.Job != nil {
			fmt.Fprintf(&b, "started job [%d] pid %d\n", res.Job.Slot, res.Job.Pid())
		}
	}
	fmt.Fprintf(&b, "exit status: %d\n", code)
	if out.Len() > 0 {
		b.WriteString(out.String())
	}

	if err != nil || code != 0 {
		return mcp.NewToolResultError(b.String()), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

// captured runs a foreground pipeline with stdout and stderr collected into
// out.
func (ts *toolServer) captured(ctx context.Context, p *pipeline.Pipeline, stdin *os.File, out io.Writer) (*pipeline.Result, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, &pipeline.ResourceError{Op: "pipe", Err: err}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(out, r)
		r.Close()
	}()

	res, err := ts.exec.WithIO(stdin, w, w).Execute(ctx, p)
	w.Close()
	<-done
	return res, err
}

func (ts *toolServer) listJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list := ts.exec.Jobs.List()
	if len(list) == 0 {
		return mcp.NewToolResultText("no background jobs\n"), nil
	}
	var b bytes.Buffer
	if err := jobs.Format(&b, list); err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (ts *toolServer) killJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slot, err := req.RequireInt("slot")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sig := syscall.SIGTERM
	if name := req.GetString("signal", ""); name != "" {
		parsed, ok := shell.ParseSignal(name)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("%s: invalid signal", name)), nil
		}
		sig = parsed
	}

	j, err := ts.exec.Jobs.Kill(slot, sig)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var b bytes.Buffer
	if err := jobs.Format(&b, []jobs.Job{j}); err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (ts *toolServer) record(line string, p *pipeline.Pipeline, res *pipeline.Result, err error, code int, d time.Duration) {
	if ts.journal == nil {
		return
	}
	if jerr := ts.journal.Log(journal.NewRecord(line, p, res, err, code, d)); jerr != nil {
		ts.logger.Warn("journal write failed", "err", jerr)
	}
}

// statusOf is the status a shell would report for one execution.
func statusOf(res *pipeline.Result, err error) int {
	switch {
	case err != nil:
		return pipeline.ExitLaunchFailed
	case res == nil:
		return 0
	default:
		return res.ExitCode()
	}
}

// cappedBuffer keeps the first maxToolOutput bytes written to it and
// discards the rest, so writers never block.
type cappedBuffer struct {
	buf       bytes.Buffer
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := maxToolOutput - c.buf.Len(); room < len(p) {
		c.truncated = true
		if room > 0 {
			c.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *cappedBuffer) Len() int { return c.buf.Len() }

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + "\n[output truncated]\n"
	}
	return c.buf.String()
}
