package journal

import (
	"os"
	"time"

	"github.com/marcelocantos/pipesh/internal/pipeline"
)

// Entry is one line of the execution journal.
type Entry struct {
	Seq          uint64    `json:"seq"`
	Time         time.Time `json:"ts"`
	PrevHash     string    `json:"prev_hash"`
	Line         string    `json:"line"`               // input as typed, after alias expansion
	Stages       []string  `json:"stages"`             // program name per stage
	Statuses     []int     `json:"statuses,omitempty"` // per-stage status; empty for background
	ExitCode     int       `json:"exit_code"`
	Background   bool      `json:"background,omitempty"`
	JobSlot      int       `json:"job_slot,omitempty"`
	LaunchFailed bool      `json:"launch_failed,omitempty"` // some stage could not be started
	Error        string    `json:"error,omitempty"`         // redirection or resource error
	Duration     float64   `json:"duration_ms"`
	Cwd          string    `json:"cwd"`
	Hash         string    `json:"hash"` // SHA-256 of this entry with hash empty
}

// Record carries what the shell knows about one executed line.
type Record struct {
	Line         string
	Stages       []string
	Statuses     []int
	ExitCode     int
	Background   bool
	JobSlot      int
	LaunchFailed bool
	Err          error
	Duration     time.Duration
	Cwd          string
}

// NewRecord describes one executed pipeline. res may be nil when execution
// never started.
func NewRecord(line string, p *pipeline.Pipeline, res *pipeline.Result, err error, exitCode int, d time.Duration) Record {
	rec := Record{
		Line:       line,
		ExitCode:   exitCode,
		Background: p.Background,
		Err:        err,
		Duration:   d,
	}
	rec.Cwd, _ = os.Getwd()
	for _, st := range p.Stages {
		rec.Stages = append(rec.Stages, st.Name())
	}
	if res == nil {
		return rec
	}
	if res.Job != nil {
		rec.JobSlot = res.Job.Slot
	}
	rec.LaunchFailed = res.LaunchFailure() != nil
	if !p.Background {
		for _, st := range res.Statuses {
			rec.Statuses = append(rec.Statuses, st.ExitCode)
		}
	}
	return rec
}
