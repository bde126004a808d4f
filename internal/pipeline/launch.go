package pipeline

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// launch starts the program for one stage with the already-wired stdio in
// attr. argv is passed verbatim, so argv[0] stays the name as typed. A
// program that cannot be run yields a *LaunchError carrying the
// conventional exit status; exhausting process resources yields a
// *ResourceError.
func launch(stage int, st Stage, attr *os.ProcAttr) (*os.Process, error) {
	name := st.Name()
	path, err := lookPath(name, envPath(attr.Env))
	if err != nil {
		return nil, &LaunchError{Stage: stage, Program: name, Code: launchStatus(err), Err: err}
	}

	proc, err := os.StartProcess(path, st.Args, attr)
	if err != nil {
		if isResourceExhausted(err) {
			return nil, &ResourceError{Op: "fork", Err: err}
		}
		return nil, &LaunchError{Stage: stage, Program: name, Code: launchStatus(err), Err: err}
	}
	return proc, nil
}

// lookPath resolves name against the directories in pathList. A name
// containing a slash is used as is; execve reports whether it exists and
// may run. A regular file found on the path that is not executable is a
// permission error, not a missing command.
func lookPath(name, pathList string) (string, error) {
	if strings.Contains(name, "/") {
		return name, nil
	}
	denied := ""
	for _, dir := range filepath.SplitList(pathList) {
		if dir == "" {
			dir = "."
		}
		path := dir + string(filepath.Separator) + name
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		if unix.Access(path, unix.X_OK) == nil {
			return path, nil
		}
		if denied == "" {
			denied = path
		}
	}
	if denied != "" {
		return "", &fs.PathError{Op: "exec", Path: denied, Err: fs.ErrPermission}
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

// envPath returns the PATH value from the child's environment.
func envPath(env []string) string {
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, "PATH="); ok {
			return v
		}
	}
	return ""
}

// launchStatus maps a launch failure to the status a shell reports for it.
func launchStatus(err error) int {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return ExitNotFound
	case errors.Is(err, fs.ErrPermission), errors.Is(err, unix.ENOEXEC), errors.Is(err, unix.EISDIR):
		return ExitNotExecutable
	default:
		return ExitLaunchFailed
	}
}

func isResourceExhausted(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ENOMEM) ||
		errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE)
}
