package pipeline

import "strings"

// Operators recognized outside quotes.
const (
	OpPipe        = "|"  // pipe (stdout → stdin)
	OpRedirectIn  = "<"  // redirect stdin from file
	OpRedirectOut = ">"  // redirect stdout to file, truncating
	OpAppendOut   = ">>" // redirect stdout to file, appending
	OpBackground  = "&"  // run the pipeline in the background
)

// Stage represents a single program invocation in a pipeline.
type Stage struct {
	Args   []string // program name followed by its arguments, never empty
	In     string   // file path for stdin redirect, empty if none
	Out    string   // file path for stdout redirect, empty if none
	Append bool     // open Out in append mode instead of truncating
}

// Name returns the program name as typed.
func (s Stage) Name() string {
	return s.Args[0]
}

func (s Stage) String() string {
	parts := make([]string, 0, len(s.Args)+4)
	for _, a := range s.Args {
		parts = append(parts, quote(a))
	}
	if s.In != "" {
		parts = append(parts, OpRedirectIn, quote(s.In))
	}
	if s.Out != "" {
		op := OpRedirectOut
		if s.Append {
			op = OpAppendOut
		}
		parts = append(parts, op, quote(s.Out))
	}
	return strings.Join(parts, " ")
}

// Pipeline represents a parsed command line: one or more stages connected
// by pipes, optionally run in the background.
type Pipeline struct {
	Stages     []Stage
	Background bool
}

// String renders the pipeline the way it is shown in job listings. The
// background marker is not included.
func (p *Pipeline) String() string {
	parts := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		parts[i] = s.String()
	}
	return strings.Join(parts, " "+OpPipe+" ")
}

// quote wraps s in single quotes when it would not survive re-parsing as a
// single word.
func quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\|<>&*?[") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
