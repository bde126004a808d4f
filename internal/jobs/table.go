package jobs

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"syscall"
	"time"
)

// ErrNoSuchJob is returned when a slot does not name a live job.
var ErrNoSuchJob = errors.New("no such job")

// DefaultKillGrace bounds how long Kill waits for a signalled job to be
// observed as terminated.
const DefaultKillGrace = 500 * time.Millisecond

// Table is the registry of background pipelines. It is safe for concurrent
// use; a single mutex guards registration, reconciliation and listing.
type Table struct {
	mu      sync.Mutex
	records []*record

	waiter       Waiter
	keepFinished bool
	killGrace    time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

type record struct {
	job      Job
	exited   []bool
	status   []int
	reported bool
}

// Option configures a Table.
type Option func(*Table)

// WithWaiter replaces the process poller.
func WithWaiter(w Waiter) Option {
	return func(t *Table) { t.waiter = w }
}

// WithKeepFinished keeps terminal jobs after they have been reported
// instead of pruning them.
func WithKeepFinished(keep bool) Option {
	return func(t *Table) { t.keepFinished = keep }
}

// WithKillGrace sets how long Kill waits for termination to be observed.
func WithKillGrace(d time.Duration) Option {
	return func(t *Table) { t.killGrace = d }
}

// WithLogger sets the logger used for reconciliation tracing.
func WithLogger(l *slog.Logger) Option {
	return func(t *Table) { t.logger = l }
}

// WithClock replaces time.Now for job start times.
func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

// NewTable creates an empty job table polling real processes.
func NewTable(opts ...Option) *Table {
	t := &Table{
		waiter:    SystemWaiter(),
		killGrace: DefaultKillGrace,
		now:       time.Now,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register records a background pipeline in the Running state. pids are in
// stage order; the last one decides the job's final state.
func (t *Table) Register(command string, pgid int, pids []int) Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot := 1
	for _, r := range t.records {
		if r.job.Slot >= slot {
			slot = r.job.Slot + 1
		}
	}
	r := &record{
		job: Job{
			Slot:    slot,
			Pgid:    pgid,
			Pids:    append([]int(nil), pids...),
			Command: command,
			State:   Running,
			Started: t.now(),
		},
		exited: make([]bool, len(pids)),
		status: make([]int, len(pids)),
	}
	t.records = append(t.records, r)
	t.logger.Debug("job registered", "slot", slot, "pgid", pgid, "pids", pids)
	return r.job.snapshot()
}

// Reconcile polls every running job without blocking and moves jobs whose
// processes have all exited to Done or Failed.
func (t *Table) Reconcile() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconcileLocked()
}

func (t *Table) reconcileLocked() {
	for _, r := range t.records {
		if r.job.State != Running {
			continue
		}
		for i, pid := range r.job.Pids {
			if r.exited[i] {
				continue
			}
			exited, status, err := t.waiter.Poll(pid)
			if err != nil {
				// The pid is not ours to wait for any more (ECHILD); it
				// will never be observed again, so stop tracking it.
				t.logger.Debug("poll failed", "pid", pid, "err", err)
				exited, status = true, 0
			}
			if exited {
				r.exited[i] = true
				r.status[i] = status
			}
		}
		if allTrue(r.exited) {
			r.job.ExitCode = 0
			if n := len(r.status); n > 0 {
				r.job.ExitCode = r.status[n-1]
			}
			r.job.State = Done
			if r.job.ExitCode != 0 {
				r.job.State = Failed
			}
			t.logger.Debug("job finished", "slot", r.job.Slot, "state", r.job.Status())
		}
	}
}

// List reconciles and returns every job. Terminal jobs appear in exactly
// one List or Notify result; afterwards they are pruned unless the table
// keeps finished jobs.
func (t *Table) List() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconcileLocked()

	out := make([]Job, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r.job.snapshot())
		if r.job.Terminal() {
			r.reported = true
		}
	}
	t.pruneLocked()
	return out
}

// Notify reconciles and returns the jobs that finished since they were
// last reported.
func (t *Table) Notify() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconcileLocked()

	var out []Job
	for _, r := range t.records {
		if r.job.Terminal() && !r.reported {
			out = append(out, r.job.snapshot())
			r.reported = true
		}
	}
	t.pruneLocked()
	return out
}

func (t *Table) pruneLocked() {
	if t.keepFinished {
		return
	}
	kept := t.records[:0]
	for _, r := range t.records {
		if !r.reported {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(t.records); i++ {
		t.records[i] = nil
	}
	t.records = kept
}

// Get returns the job in slot without reconciling.
func (t *Table) Get(slot int) (Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.findLocked(slot)
	if r == nil {
		return Job{}, fmt.Errorf("%%%d: %w", slot, ErrNoSuchJob)
	}
	return r.job.snapshot(), nil
}

// Len returns the number of jobs currently held.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Kill sends sig to the job's process group and reconciles until the job is
// observed as terminal or the kill grace period runs out. A terminal job
// returned by Kill counts as reported.
func (t *Table) Kill(slot int, sig syscall.Signal) (Job, error) {
	t.mu.Lock()
	r := t.findLocked(slot)
	if r == nil {
		t.mu.Unlock()
		return Job{}, fmt.Errorf("%%%d: %w", slot, ErrNoSuchJob)
	}
	if r.job.Terminal() {
		j := t.reportLocked(r)
		t.mu.Unlock()
		return j, nil
	}
	err := t.signalLocked(r, sig)
	t.mu.Unlock()
	if err != nil {
		return Job{}, fmt.Errorf("%%%d: %w", slot, err)
	}

	deadline := time.Now().Add(t.killGrace)
	for {
		t.mu.Lock()
		t.reconcileLocked()
		j := r.job.snapshot()
		if j.Terminal() {
			j = t.reportLocked(r)
		}
		t.mu.Unlock()
		if j.Terminal() || time.Now().After(deadline) {
			return j, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// reportLocked marks a terminal job as reported and prunes the table.
func (t *Table) reportLocked(r *record) Job {
	j := r.job.snapshot()
	r.reported = true
	t.pruneLocked()
	return j
}

func (t *Table) signalLocked(r *record, sig syscall.Signal) error {
	if r.job.Pgid > 0 {
		return t.waiter.Signal(-r.job.Pgid, sig)
	}
	for i, pid := range r.job.Pids {
		if r.exited[i] {
			continue
		}
		if err := t.waiter.Signal(pid, sig); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) findLocked(slot int) *record {
	for _, r := range t.records {
		if r.job.Slot == slot {
			return r
		}
	}
	return nil
}

func (j Job) snapshot() Job {
	j.Pids = append([]int(nil), j.Pids...)
	return j
}

func allTrue(bs []bool) bool {
	for _, b := range bs {
		if !b {
			return false
		}
	}
	return true
}

// Format writes one line per job: [<slot>] <pid> <state> <command>.
func Format(w io.Writer, jobs []Job) error {
	for _, j := range jobs {
		if _, err := fmt.Fprintf(w, "[%d] %d %s %s\n", j.Slot, j.Pid(), j.Status(), j.Command); err != nil {
			return err
		}
	}
	return nil
}
