// Package job implements the Directory Job (spec.md §4.4): the
// per-indexing-request outstanding-work counter and fire-once completion
// notifier.
package job

import (
	"context"
	"sync"
)

// State is the snapshot returned by Status.
type State int

const (
	// Indexing means outstanding work remains.
	Indexing State = iota
	// Indexed means the job's outstanding counter has reached zero.
	Indexed
)

// Status is a point-in-time snapshot of a Job.
type Status struct {
	State       State
	Outstanding int64
}

// Job is the bookkeeping attached to one index_directory call: a stable
// directory id, a non-negative outstanding-job counter, and a fire-once
// notifier that resolves the first time the counter reaches zero.
//
// NewJob/JobDropped pair exactly as spec.md §4.4 requires: every JobDropped
// is paired with a prior NewJob on the same Job, and outstanding never goes
// negative.
//
// Arm marks that no further NewJob calls will occur for this walk. It is
// called once, after the directory walker has finished submitting every
// file it found — by then every NewJob for this Job has already happened
// (the walker calls NewJob synchronously as it accepts each file, before
// Arm), so checking "outstanding == 0" at Arm time can never race against a
// file that hasn't been counted yet. Without Arm, an empty directory (or one
// whose last file fails before any other completes) would never fire
// notify, since outstanding would simply stay at its initial value of zero
// forever. See DESIGN.md for why NewJob is called at "file accepted by the
// walker" rather than literally at FileAggregate construction.
type Job struct {
	id string

	mu          sync.Mutex
	outstanding int64
	armed       bool

	notifyOnce sync.Once
	done       chan struct{}
}

// New returns a Job for the given stable directory id.
func New(id string) *Job {
	return &Job{id: id, done: make(chan struct{})}
}

// ID returns the stable directory identifier this Job tracks.
func (j *Job) ID() string { return j.id }

// NewJob atomically increments the outstanding counter.
func (j *Job) NewJob() {
	j.mu.Lock()
	j.outstanding++
	j.mu.Unlock()
}

// JobDropped atomically decrements the outstanding counter. If the
// post-decrement value is zero and the walk has been Armed, notify fires
// (idempotently — at most once across the Job's lifetime).
func (j *Job) JobDropped() {
	j.mu.Lock()
	j.outstanding--
	if j.outstanding < 0 {
		// Invariant violation: a JobDropped without a matching prior
		// NewJob. Clamp rather than let status() observe a negative
		// outstanding count, which spec.md §8 invariant 2 forbids.
		j.outstanding = 0
	}
	fire := j.armed && j.outstanding == 0
	j.mu.Unlock()

	if fire {
		j.fireNotify()
	}
}

// Arm records that the walker has finished submitting files for this job.
// If outstanding is already zero, notify fires immediately.
func (j *Job) Arm() {
	j.mu.Lock()
	j.armed = true
	fire := j.outstanding == 0
	j.mu.Unlock()

	if fire {
		j.fireNotify()
	}
}

func (j *Job) fireNotify() {
	j.notifyOnce.Do(func() { close(j.done) })
}

// Status takes a snapshot read of the outstanding counter.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.outstanding > 0 {
		return Status{State: Indexing, Outstanding: j.outstanding}
	}
	return Status{State: Indexed}
}

// Notified blocks until notify fires or ctx is cancelled.
func (j *Job) Notified(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
