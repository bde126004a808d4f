package pipeline

import "os"

// createMode is filtered by the process umask when a redirect target is
// created.
const createMode os.FileMode = 0644

// openInput opens a stdin redirect target. The file must exist.
func openInput(stage int, path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &RedirectionError{Stage: stage, Path: path, Err: unwrapPathError(err)}
	}
	return f, nil
}

// openOutput opens a stdout redirect target, creating it if absent. In
// append mode every write lands at end-of-file; otherwise existing
// contents are discarded.
func openOutput(stage int, path string, appendMode bool) (*os.File, error) {
	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appendMode {
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(path, flag, createMode)
	if err != nil {
		return nil, &RedirectionError{Stage: stage, Path: path, Err: unwrapPathError(err)}
	}
	return f, nil
}

// unwrapPathError drops the *os.PathError wrapper so the path is not
// repeated in RedirectionError's message.
func unwrapPathError(err error) error {
	if pe, ok := err.(*os.PathError); ok {
		return pe.Err
	}
	return err
}
