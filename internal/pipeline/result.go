package pipeline

import "github.com/marcelocantos/pipesh/internal/jobs"

// StageStatus is the outcome of one stage.
type StageStatus struct {
	Pid      int          // 0 if the stage never started
	ExitCode int          // exit code, 128+signal, or a launch status
	Launch   *LaunchError // set when the program could not be started
}

// Result is the structured outcome of executing a pipeline.
type Result struct {
	Statuses   []StageStatus
	Background bool
	Job        *jobs.Job // registered job for background pipelines
}

// ExitCode returns the pipeline's status: the last stage's status for a
// foreground pipeline, 0 for a background pipeline that registered a job.
func (r *Result) ExitCode() int {
	if r.Background && r.Job != nil {
		return 0
	}
	if len(r.Statuses) == 0 {
		return 0
	}
	return r.Statuses[len(r.Statuses)-1].ExitCode
}

// OK reports whether the pipeline succeeded.
func (r *Result) OK() bool {
	return r.ExitCode() == 0
}

// LaunchFailure returns the first stage that could not be launched, or nil.
func (r *Result) LaunchFailure() *LaunchError {
	for _, s := range r.Statuses {
		if s.Launch != nil {
			return s.Launch
		}
	}
	return nil
}
