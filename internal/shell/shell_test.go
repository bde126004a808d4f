package shell

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelocantos/pipesh/internal/jobs"
	"github.com/marcelocantos/pipesh/internal/journal"
	"github.com/marcelocantos/pipesh/internal/pipeline"
)

type testShell struct {
	*Shell
	out    *bytes.Buffer
	status *bytes.Buffer
}

func newTestShell(t *testing.T, opts Options) *testShell {
	t.Helper()
	devnull, err := os.Open(os.DevNull)
	require.NoError(t, err)
	t.Cleanup(func() { devnull.Close() })

	e := pipeline.NewExecutor(jobs.NewTable())
	e.Stdin = devnull
	e.Stdout = devnull
	e.Stderr = devnull
	opts.Executor = e

	ts := &testShell{out: &bytes.Buffer{}, status: &bytes.Buffer{}}
	opts.Stdout = ts.out
	opts.Stderr = ts.status
	s, err := New(opts)
	require.NoError(t, err)
	ts.Shell = s
	return ts
}

func requireTools(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			t.Skipf("%s not available: %v", name, err)
		}
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(orig) })
}

func TestNewNeedsJobTable(t *testing.T) {
	_, err := New(Options{Executor: &pipeline.Executor{}})
	assert.Error(t, err)
}

func TestRunLineSuccess(t *testing.T) {
	requireTools(t, "echo")
	s := newTestShell(t, Options{})
	out := filepath.Join(t.TempDir(), "out")

	assert.Equal(t, 0, s.RunLine(context.Background(), "echo hi > "+out))
	assert.Equal(t, "[+] Command 'echo' completed.\n", s.status.String())
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(data))
}

func TestRunLineFailure(t *testing.T) {
	requireTools(t, "true", "false")
	s := newTestShell(t, Options{})

	assert.Equal(t, 1, s.RunLine(context.Background(), "true | false"))
	assert.Equal(t, "[-] Command 'true | false' failed with exit code 1.\n", s.status.String())
}

func TestRunLineNotFound(t *testing.T) {
	s := newTestShell(t, Options{})

	assert.Equal(t, 127, s.RunLine(context.Background(), "definitely-not-a-program-xyz"))
	assert.Equal(t, "[-] Command 'definitely-not-a-program-xyz' not found. Check PATH.\n", s.status.String())
}

func TestRunLinePermissionDenied(t *testing.T) {
	s := newTestShell(t, Options{})
	script := filepath.Join(t.TempDir(), "script")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o644))

	assert.Equal(t, 126, s.RunLine(context.Background(), script))
	assert.Contains(t, s.status.String(), "Permission denied for command")
}

func TestRunLineRedirectionError(t *testing.T) {
	requireTools(t, "cat")
	s := newTestShell(t, Options{})
	missing := filepath.Join(t.TempDir(), "missing")

	assert.Equal(t, 1, s.RunLine(context.Background(), "cat < "+missing))
	assert.Equal(t, "[-] Cannot redirect '"+missing+"': no such file or directory\n", s.status.String())
}

func TestRunLineSyntaxError(t *testing.T) {
	s := newTestShell(t, Options{})

	assert.Equal(t, ExitSyntax, s.RunLine(context.Background(), "echo hi |"))
	assert.Contains(t, s.status.String(), "[-] syntax error")
	assert.False(t, s.Exited())
}

func TestRunLineEmpty(t *testing.T) {
	s := newTestShell(t, Options{})
	assert.Equal(t, 0, s.RunLine(context.Background(), "   "))
	assert.Empty(t, s.status.String())
	assert.Empty(t, s.history)
}

func TestAliasExpansion(t *testing.T) {
	requireTools(t, "echo")
	s := newTestShell(t, Options{Aliases: map[string]string{"say": "echo configured"}})
	dir := t.TempDir()
	ctx := context.Background()

	require.Equal(t, 0, s.RunLine(ctx, "say > "+filepath.Join(dir, "a")))
	require.Equal(t, 0, s.RunLine(ctx, "alias greet='echo hello there'"))
	require.Equal(t, 0, s.RunLine(ctx, "greet world > "+filepath.Join(dir, "b")))

	a, _ := os.ReadFile(filepath.Join(dir, "a"))
	b, _ := os.ReadFile(filepath.Join(dir, "b"))
	assert.Equal(t, "configured\n", string(a))
	assert.Equal(t, "hello there world\n", string(b))
}

func TestAliasBuiltin(t *testing.T) {
	s := newTestShell(t, Options{})
	ctx := context.Background()

	assert.Equal(t, 0, s.RunLine(ctx, "alias"))
	assert.Contains(t, s.status.String(), "No aliases defined.")

	assert.Equal(t, 0, s.RunLine(ctx, "alias ll='ls -l' la='ls -a'"))
	assert.Equal(t, 0, s.RunLine(ctx, "alias"))
	assert.Equal(t, "la='ls -a'\nll='ls -l'\n", s.out.String())

	assert.Equal(t, 1, s.RunLine(ctx, "alias nope"))
	assert.Equal(t, 1, s.RunLine(ctx, "alias a/b=ls"))

	assert.Equal(t, 0, s.RunLine(ctx, "unalias ll"))
	assert.Equal(t, 1, s.RunLine(ctx, "unalias ll"))
	assert.Equal(t, 0, s.RunLine(ctx, "unalias -a"))
	assert.Empty(t, s.aliases)
}

func TestCdBuiltin(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	chdir(t, dir)
	s := newTestShell(t, Options{})
	ctx := context.Background()

	require.Equal(t, 0, s.RunLine(ctx, "cd sub"))
	wd, _ := os.Getwd()
	assert.Equal(t, sub, wd)

	require.Equal(t, 0, s.RunLine(ctx, "cd -"))
	wd, _ = os.Getwd()
	assert.Equal(t, dir, wd)

	assert.Equal(t, 1, s.RunLine(ctx, "cd nowhere"))
	assert.Contains(t, s.status.String(), "Directory not found: nowhere")
	assert.Equal(t, 1, s.RunLine(ctx, "cd a b"))
}

func TestGlobExpansion(t *testing.T) {
	requireTools(t, "echo")
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt", "c.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	chdir(t, dir)
	s := newTestShell(t, Options{})

	require.Equal(t, 0, s.RunLine(context.Background(), `echo *.txt '*.md' *.none > out`))
	data, err := os.ReadFile(filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Equal(t, "a.txt b.txt *.md *.none\n", string(data))
}

func TestBackgroundJobs(t *testing.T) {
	requireTools(t, "sleep")
	s := newTestShell(t, Options{})
	ctx := context.Background()

	assert.Equal(t, 0, s.RunLine(ctx, "sleep 30 &"))
	assert.Contains(t, s.status.String(), "[i] Command 'sleep' running in background [1] (PID: ")

	require.Equal(t, 0, s.RunLine(ctx, "jobs"))
	assert.Regexp(t, `^\[1\] \d+ Running sleep 30\n$`, s.out.String())

	s.status.Reset()
	require.Equal(t, 0, s.RunLine(ctx, "kill -s TERM %1"))
	assert.Equal(t, "[i] [1] Failed(143) sleep 30\n", s.status.String())

	s.status.Reset()
	s.announceFinished()
	assert.Empty(t, s.status.String(), "a killed job is not announced again")

	assert.Equal(t, 1, s.RunLine(ctx, "kill %7"))
	assert.Equal(t, ExitSyntax, s.RunLine(ctx, "kill"))
}

func TestFinishedJobsAnnounced(t *testing.T) {
	requireTools(t, "true")
	s := newTestShell(t, Options{})
	require.Equal(t, 0, s.RunLine(context.Background(), "true &"))

	s.status.Reset()
	require.Eventually(t, func() bool {
		s.announceFinished()
		return s.status.Len() > 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "[i] [1] Done true\n", s.status.String())

	s.status.Reset()
	s.announceFinished()
	assert.Empty(t, s.status.String(), "a finished job is announced once")
}

func TestParseSignal(t *testing.T) {
	for in, want := range map[string]int{"9": 9, "KILL": 9, "sigterm": 15, "TERM": 15, "HUP": 1} {
		sig, ok := ParseSignal(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, int(sig), in)
	}
	for _, in := range []string{"0", "NOPE", "99"} {
		_, ok := ParseSignal(in)
		assert.False(t, ok, in)
	}
}

func TestHistoryBuiltin(t *testing.T) {
	s := newTestShell(t, Options{})
	ctx := context.Background()

	s.RunLine(ctx, "alias a=b")
	s.RunLine(ctx, "alias c=d")
	s.RunLine(ctx, "history 2")
	assert.Equal(t, "    2  alias c=d\n    3  history 2\n", s.out.String())

	s.out.Reset()
	s.RunLine(ctx, "history -c")
	assert.Empty(t, s.history)
	s.RunLine(ctx, "history")
	assert.Equal(t, "    1  history\n", s.out.String())
}

func TestExitBuiltin(t *testing.T) {
	requireTools(t, "false")
	s := newTestShell(t, Options{})
	ctx := context.Background()

	assert.Equal(t, ExitSyntax, s.RunLine(ctx, "exit x"))
	assert.False(t, s.Exited())

	s.RunLine(ctx, "false")
	assert.Equal(t, 1, s.RunLine(ctx, "exit"))
	assert.True(t, s.Exited())

	s2 := newTestShell(t, Options{})
	assert.Equal(t, 3, s2.RunLine(ctx, "exit 3"))
}

func TestHelpBuiltin(t *testing.T) {
	s := newTestShell(t, Options{})
	require.Equal(t, 0, s.RunLine(context.Background(), "help"))

	g := goldie.New(t, goldie.WithFixtureDir(filepath.Join("testdata", "golden")))
	g.Assert(t, "help", s.out.Bytes())

	s.out.Reset()
	assert.Equal(t, 0, s.RunLine(context.Background(), "help cd"))
	assert.True(t, strings.HasPrefix(s.out.String(), "cd [DIR | -]"))
	assert.Equal(t, 1, s.RunLine(context.Background(), "help nope"))
}

func TestJournal(t *testing.T) {
	requireTools(t, "echo")
	fs := afero.NewMemMapFs()
	j, err := journal.Open(fs, "/j/journal.jsonl")
	require.NoError(t, err)
	s := newTestShell(t, Options{Journal: j})
	ctx := context.Background()

	s.RunLine(ctx, "echo one")
	s.RunLine(ctx, "definitely-not-a-program-xyz")
	s.RunLine(ctx, "alias x=y") // builtins are not journalled

	entries, err := journal.Tail(fs, "/j/journal.jsonl", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "echo one", entries[0].Line)
	assert.Equal(t, []int{0}, entries[0].Statuses)
	assert.Equal(t, 127, entries[1].ExitCode)
	assert.True(t, entries[1].LaunchFailed)
	assert.NoError(t, journal.Verify(fs, "/j/journal.jsonl"))
}

func TestShortDir(t *testing.T) {
	tests := []struct {
		cwd, home, want string
	}{
		{"/home/ada", "/home/ada", "~"},
		{"/home/ada/src", "/home/ada", "~/src"},
		{"/home/adam", "/home/ada", "/home/adam"},
		{"/tmp", "", "/tmp"},
		{"/home/ada/src/github.com/pipesh/internal", "/home/ada", "...ub.com/pipesh/internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shortDir(tt.cwd, tt.home), tt.cwd)
	}
}

func TestRenderPrompt(t *testing.T) {
	env := promptEnv{user: "ada", host: "box", cwd: "/home/ada/src", home: "/home/ada"}
	assert.Equal(t, "ada@box:~/src$ ", renderPrompt("", env, false))
	assert.Equal(t, "[ada ~/src]$ ", renderPrompt(`[\u \w]\$ `, env, false))

	env.root = true
	assert.Equal(t, "ada@box:~/src# ", renderPrompt("", env, false))
	assert.Contains(t, renderPrompt("", env, true), "\x1b[")
}

func TestAliasesExpand(t *testing.T) {
	a := aliases{"ll": "ls -l", "g": "grep"}
	tests := map[string]string{
		"ll":         "ls -l",
		"  ll /tmp":  "ls -l /tmp",
		"ll|wc":      "ls -l|wc",
		"g x | ll":   "grep x | ll",
		"llama":      "llama",
		"echo ll":    "echo ll",
		"ll > out &": "ls -l > out &",
	}
	for in, want := range tests {
		assert.Equal(t, want, a.expand(in), in)
	}
}

func TestReporterColor(t *testing.T) {
	var plain, colored bytes.Buffer
	NewReporter(&plain, false).Success("ok")
	NewReporter(&colored, true).Error("bad")
	assert.Equal(t, "[+] ok\n", plain.String())
	assert.Contains(t, colored.String(), "\x1b[")
	assert.Contains(t, colored.String(), "[-] bad")

	assert.True(t, ShouldColor("always", false))
	assert.False(t, ShouldColor("never", true))
	assert.True(t, ShouldColor("auto", true))
	assert.False(t, ShouldColor("auto", false))
}
