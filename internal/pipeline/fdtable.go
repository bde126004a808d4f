package pipeline

import (
	"errors"
	"log/slog"
	"os"
)

// fdTable is the ownership table for every descriptor the orchestrator
// opens while building a pipeline. Each entry names the stage whose
// process consumes it. The parent closes a stage's entries as soon as
// that stage's process exists (or failed to start), and closes whatever
// remains when the build ends, successfully or not.
//
// Children need no table of their own: os.StartProcess installs exactly
// the three files in ProcAttr.Files as the child's stdio, and every other
// descriptor is opened close-on-exec, so no child outlives exec holding a
// pipe end it does not use.
type fdTable struct {
	entries []fdEntry
	logger  *slog.Logger
}

type fdEntry struct {
	file   *os.File
	stage  int
	role   string
	closed bool
}

func (t *fdTable) add(f *os.File, stage int, role string) {
	t.entries = append(t.entries, fdEntry{file: f, stage: stage, role: role})
}

// release closes the parent's copies of every descriptor handed to stage.
func (t *fdTable) release(stage int) error {
	var errs []error
	for i := range t.entries {
		e := &t.entries[i]
		if e.stage != stage || e.closed {
			continue
		}
		errs = append(errs, t.close(e))
	}
	return errors.Join(errs...)
}

// closeAll closes every descriptor still open.
func (t *fdTable) closeAll() error {
	var errs []error
	for i := range t.entries {
		if !t.entries[i].closed {
			errs = append(errs, t.close(&t.entries[i]))
		}
	}
	return errors.Join(errs...)
}

// open returns the number of descriptors the parent still holds.
func (t *fdTable) open() int {
	n := 0
	for _, e := range t.entries {
		if !e.closed {
			n++
		}
	}
	return n
}

func (t *fdTable) close(e *fdEntry) error {
	e.closed = true
	err := e.file.Close()
	t.logger.Debug("closed descriptor", "stage", e.stage, "role", e.role, "err", err)
	return err
}
