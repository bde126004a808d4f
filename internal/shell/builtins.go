package shell

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/pborman/getopt/v2"
	"golang.org/x/sys/unix"

	"github.com/marcelocantos/pipesh/internal/jobs"
)

type builtin func(s *Shell, args []string) int

func builtins() map[string]builtin {
	return map[string]builtin{
		"exit":    exitBuiltin,
		"cd":      cdBuiltin,
		"jobs":    jobsBuiltin,
		"kill":    killBuiltin,
		"alias":   aliasBuiltin,
		"unalias": unaliasBuiltin,
		"history": historyBuiltin,
		"help":    helpBuiltin,
	}
}

var builtinHelp = map[string]string{
	"exit":    "exit [N]            leave the shell with status N (default: last status)",
	"cd":      "cd [DIR | -]        change directory (default: $HOME)",
	"jobs":    "jobs                list background jobs",
	"kill":    "kill [-s SIG] %N    signal background job N (default: TERM)",
	"alias":   "alias [NAME[=TEXT]] define or show aliases",
	"unalias": "unalias [-a] NAME   remove aliases",
	"history": "history [-c] [N]    show or clear the line history",
	"help":    "help [NAME]         show this help",
}

func usage(w io.Writer, opts *getopt.Set, err error, name string) int {
	if err != nil {
		fmt.Fprintf(w, "%s: %v\n", name, err)
	}
	fmt.Fprintln(w, "usage:", builtinHelp[name])
	if opts != nil {
		opts.PrintOptions(w)
	}
	return ExitSyntax
}

func exitBuiltin(s *Shell, args []string) int {
	code := s.status
	switch len(args) {
	case 1:
	case 2:
		n, err := strconv.Atoi(args[1])
		if err != nil {
			s.report.Error("exit: %s: numeric argument required", args[1])
			return ExitSyntax
		}
		code = n & 0xff
	default:
		s.report.Error("exit: too many arguments")
		return 1
	}
	s.report.Info("Goodbye! Exiting pipesh.")
	s.exited = true
	return code
}

func cdBuiltin(s *Shell, args []string) int {
	var dir string
	switch len(args) {
	case 1:
		home, err := os.UserHomeDir()
		if err != nil {
			s.report.Error("cd: %v", err)
			return 1
		}
		dir = home
	case 2:
		dir = args[1]
		if dir == "-" {
			dir = os.Getenv("OLDPWD")
			if dir == "" {
				s.report.Error("cd: OLDPWD not set")
				return 1
			}
		}
	default:
		s.report.Error("cd: too many arguments")
		return 1
	}

	prev, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			s.report.Error("Directory not found: %s", dir)
		case errors.Is(err, os.ErrPermission):
			s.report.Error("Permission denied: %s", dir)
		default:
			s.report.Error("cd: %s: %v", dir, unwrapPath(err))
		}
		return 1
	}
	wd, _ := os.Getwd()
	_ = os.Setenv("OLDPWD", prev)
	_ = os.Setenv("PWD", wd)
	return 0
}

func jobsBuiltin(s *Shell, args []string) int {
	opts := getopt.New()
	opts.SetProgram("jobs")
	opts.SetParameters("")
	pidsOnly := opts.Bool('p', "list process group ids only")
	if err := opts.Getopt(args, nil); err != nil {
		return usage(s.stderr, opts, err, "jobs")
	}

	list := s.jobs.List()
	if len(list) == 0 {
		s.report.Info("No background jobs.")
		return 0
	}
	if *pidsOnly {
		for _, j := range list {
			fmt.Fprintln(s.stdout, j.Pgid)
		}
		return 0
	}
	if err := jobs.Format(s.stdout, list); err != nil {
		s.report.Error("jobs: %v", err)
		return 1
	}
	return 0
}

func killBuiltin(s *Shell, args []string) int {
	sig := syscall.SIGTERM
	// kill -9 %1 and kill -KILL %1 predate getopt-style -s.
	if len(args) > 2 && strings.HasPrefix(args[1], "-") && args[1] != "-s" && args[1] != "--" {
		if parsed, ok := ParseSignal(args[1][1:]); ok {
			sig = parsed
			args = append(args[:1:1], args[2:]...)
		}
	}

	opts := getopt.New()
	opts.SetProgram("kill")
	opts.SetParameters("%N...")
	sigName := opts.String('s', "", "signal name or number", "SIG")
	if err := opts.Getopt(args, nil); err != nil {
		return usage(s.stderr, opts, err, "kill")
	}
	if *sigName != "" {
		parsed, ok := ParseSignal(*sigName)
		if !ok {
			s.report.Error("kill: %s: invalid signal specification", *sigName)
			return 1
		}
		sig = parsed
	}
	if opts.NArgs() == 0 {
		return usage(s.stderr, opts, nil, "kill")
	}

	status := 0
	for _, spec := range opts.Args() {
		slot, err := parseJobSpec(spec)
		if err != nil {
			s.report.Error("kill: %v", err)
			status = 1
			continue
		}
		j, err := s.jobs.Kill(slot, sig)
		if err != nil {
			s.report.Error("kill: %v", err)
			status = 1
			continue
		}
		s.report.Info("[%d] %s %s", j.Slot, j.Status(), j.Command)
	}
	return status
}

// parseJobSpec accepts %N or a bare N.
func parseJobSpec(spec string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(spec, "%"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s: no such job", spec)
	}
	return n, nil
}

// ParseSignal accepts a number, a name (TERM) or a full name (SIGTERM).
func ParseSignal(s string) (syscall.Signal, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return syscall.Signal(n), n > 0 && n < 65
	}
	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	sig := unix.SignalNum(name)
	return sig, sig != 0
}

func aliasBuiltin(s *Shell, args []string) int {
	if len(args) == 1 {
		if len(s.aliases) == 0 {
			s.report.Info("No aliases defined.")
			return 0
		}
		for _, name := range s.aliases.sorted() {
			fmt.Fprintf(s.stdout, "%s='%s'\n", name, s.aliases[name])
		}
		return 0
	}

	status := 0
	for _, arg := range args[1:] {
		if !strings.Contains(arg, "=") {
			text, ok := s.aliases[arg]
			if !ok {
				s.report.Error("Alias not found: %s", arg)
				status = 1
				continue
			}
			fmt.Fprintf(s.stdout, "%s='%s'\n", arg, text)
			continue
		}
		if err := s.aliases.define(arg); err != nil {
			s.report.Error("alias: %v", err)
			status = 1
			continue
		}
		name, _, _ := strings.Cut(arg, "=")
		s.report.Success("Alias '%s' set.", name)
	}
	return status
}

func unaliasBuiltin(s *Shell, args []string) int {
	opts := getopt.New()
	opts.SetProgram("unalias")
	opts.SetParameters("NAME...")
	all := opts.Bool('a', "remove every alias")
	if err := opts.Getopt(args, nil); err != nil {
		return usage(s.stderr, opts, err, "unalias")
	}
	if *all {
		s.aliases = aliases{}
		s.report.Success("All aliases removed.")
		return 0
	}
	if opts.NArgs() == 0 {
		return usage(s.stderr, opts, nil, "unalias")
	}

	status := 0
	for _, name := range opts.Args() {
		if _, ok := s.aliases[name]; !ok {
			s.report.Error("Alias not found: %s", name)
			status = 1
			continue
		}
		delete(s.aliases, name)
		s.report.Success("Alias '%s' removed.", name)
	}
	return status
}

func historyBuiltin(s *Shell, args []string) int {
	opts := getopt.New()
	opts.SetProgram("history")
	opts.SetParameters("[N]")
	clearAll := opts.Bool('c', "clear the history by deleting all entries")
	if err := opts.Getopt(args, nil); err != nil {
		return usage(s.stderr, opts, err, "history")
	}

	if *clearAll {
		s.history = nil
		if s.rl != nil {
			s.rl.Operation.ResetHistory()
		}
		return 0
	}

	start := 0
	if opts.NArgs() > 0 {
		n, err := strconv.Atoi(opts.Arg(0))
		if err != nil || n < 0 {
			s.report.Error("history: %s: numeric argument required", opts.Arg(0))
			return 1
		}
		if n < len(s.history) {
			start = len(s.history) - n
		}
	}
	if len(s.history) == 0 {
		s.report.Info("No history yet.")
		return 0
	}
	for i := start; i < len(s.history); i++ {
		fmt.Fprintf(s.stdout, "%5d  %s\n", i+1, s.history[i])
	}
	return 0
}

func helpBuiltin(s *Shell, args []string) int {
	if len(args) > 1 {
		status := 0
		for _, name := range args[1:] {
			text, ok := builtinHelp[name]
			if !ok {
				s.report.Error("help: no help topics match '%s'", name)
				status = 1
				continue
			}
			fmt.Fprintln(s.stdout, text)
		}
		return status
	}

	names := make([]string, 0, len(builtinHelp))
	for name := range builtinHelp {
		names = append(names, name)
	}
	sort.Strings(names)

	w := s.stdout
	fmt.Fprintln(w, "pipesh: run programs, connect them with pipes and redirect their files.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  cmd [args] [< in] [> out | >> out] [| cmd ...] [&]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Builtins run only as a plain single command:")
	fmt.Fprintln(w)
	for _, name := range names {
		fmt.Fprintln(w, "  "+builtinHelp[name])
	}
	return 0
}

func unwrapPath(err error) error {
	var pe *os.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}
