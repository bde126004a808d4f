package pipeline

import "fmt"

// Conventional exit statuses for stages that could not be launched.
const (
	ExitNotFound      = 127 // program not found on the search path
	ExitNotExecutable = 126 // found, but not executable or permission denied
	ExitLaunchFailed  = 1   // any other launch failure
)

// ParseError reports malformed pipe or redirection syntax. The pipeline is
// not executed.
type ParseError struct {
	Msg   string
	Token string // offending operator, empty when not applicable
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return "syntax error: " + e.Msg
	}
	return fmt.Sprintf("syntax error near unexpected token `%s': %s", e.Token, e.Msg)
}

// RedirectionError reports a redirection target that could not be opened.
// It aborts the pipeline that needed it.
type RedirectionError struct {
	Stage int
	Path  string
	Err   error
}

func (e *RedirectionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *RedirectionError) Unwrap() error { return e.Err }

// LaunchError describes a stage whose program could not be started. It is
// never returned from Execute; it is recorded in the stage's status next to
// the conventional exit code.
type LaunchError struct {
	Stage   int
	Program string
	Code    int
	Err     error
}

func (e *LaunchError) Error() string {
	switch e.Code {
	case ExitNotFound:
		return fmt.Sprintf("%s: command not found", e.Program)
	case ExitNotExecutable:
		return fmt.Sprintf("%s: permission denied", e.Program)
	default:
		return fmt.Sprintf("%s: %v", e.Program, e.Err)
	}
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ResourceError reports a failure to allocate a pipe or create a process.
// It aborts the whole pipeline.
type ResourceError struct {
	Op  string // "pipe" or "fork"
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }
