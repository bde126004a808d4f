package jobs

import (
	"fmt"
	"time"
)

// State is the run state of a background job.
type State int

const (
	Running State = iota // at least one process has not been observed to exit
	Done                 // every process exited and the last stage exited 0
	Failed               // every process exited and the last stage did not
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Job is a snapshot of one background pipeline.
type Job struct {
	Slot     int
	Pgid     int   // process group shared by every stage, 0 if none
	Pids     []int // one per started stage, in stage order
	Command  string
	State    State
	ExitCode int // last stage's status once the job is terminal
	Started  time.Time
}

// Terminal reports whether the job has left the Running state.
func (j Job) Terminal() bool {
	return j.State != Running
}

// Status renders the state column of a job listing.
func (j Job) Status() string {
	if j.State == Failed {
		return fmt.Sprintf("Failed(%d)", j.ExitCode)
	}
	return j.State.String()
}

// Pid returns the pid shown in listings: the first stage's.
func (j Job) Pid() int {
	if len(j.Pids) == 0 {
		return 0
	}
	return j.Pids[0]
}
