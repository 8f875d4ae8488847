package workerpool

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Registry is the persistence backend for jobs. Implementations must be
// safe for concurrent use; Claim must hand each queued job to exactly one
// caller.
type Registry interface {
	// Enqueue persists a new queued job.
	Enqueue(ctx context.Context, job Job) error

	// Claim atomically moves the oldest queued job of any listed kind to
	// running and returns it. Returns (nil, nil) when no work is queued.
	Claim(ctx context.Context, kinds []Kind) (*Job, error)

	// Get returns the job with the given ID, or (nil, nil) when unknown.
	Get(ctx context.Context, id string) (*Job, error)

	// Complete marks a running job done with its result.
	Complete(ctx context.Context, id string, result []byte) error

	// Fail marks a running job failed with a diagnostic message.
	Fail(ctx context.Context, id string, msg string) error

	// CancelSession cancels every non-terminal job of a session and
	// returns how many were cancelled.
	CancelSession(ctx context.Context, sessionID string) (int, error)

	// Abandoned returns the running jobs of a session, oldest first. Used
	// on restart to find work claimed by a dead worker.
	Abandoned(ctx context.Context, sessionID string) ([]Job, error)

	// Requeue moves the listed jobs back to queued, clearing their claim.
	Requeue(ctx context.Context, ids []string) error

	// PurgeExpired removes terminal jobs past their retention window as of
	// now, returning how many were removed.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

var _ Registry = (*MemoryRegistry)(nil)

// MemoryRegistry is the in-process Registry used for single-node runs and
// tests. Jobs do not survive a restart.
type MemoryRegistry struct {
	mu   sync.Mutex
	jobs []Job
}

// NewMemoryRegistry creates an empty in-process registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{}
}

// Enqueue implements [Registry].
func (r *MemoryRegistry) Enqueue(ctx context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

// Claim implements [Registry].
func (r *MemoryRegistry) Claim(ctx context.Context, kinds []Kind) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.jobs {
		j := &r.jobs[i]
		if j.Status != StatusQueued || !slices.Contains(kinds, j.Kind) {
			continue
		}
		now := time.Now().UTC()
		j.Status = StatusRunning
		j.StartedAt = &now
		j.Attempts++
		claimed := *j
		return &claimed, nil
	}
	return nil, nil
}

// Get implements [Registry].
func (r *MemoryRegistry) Get(ctx context.Context, id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexOf(id); i >= 0 {
		j := r.jobs[i]
		return &j, nil
	}
	return nil, nil
}

// Complete implements [Registry].
func (r *MemoryRegistry) Complete(ctx context.Context, id string, result []byte) error {
	return r.finish(id, StatusDone, result, "")
}

// Fail implements [Registry].
func (r *MemoryRegistry) Fail(ctx context.Context, id string, msg string) error {
	return r.finish(id, StatusFailed, nil, msg)
}

func (r *MemoryRegistry) finish(id string, status Status, result []byte, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(id)
	if i < 0 {
		return nil
	}
	if r.jobs[i].Status != StatusRunning {
		// A late completion loses: cancelled and finished jobs keep their
		// terminal status.
		return nil
	}
	now := time.Now().UTC()
	r.jobs[i].Status = status
	r.jobs[i].Result = result
	r.jobs[i].ErrorMsg = msg
	r.jobs[i].FinishedAt = &now
	return nil
}

// CancelSession implements [Registry].
func (r *MemoryRegistry) CancelSession(ctx context.Context, sessionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	cancelled := 0
	for i := range r.jobs {
		j := &r.jobs[i]
		if j.SessionID == sessionID && !j.Status.Terminal() {
			j.Status = StatusCancelled
			j.FinishedAt = &now
			cancelled++
		}
	}
	return cancelled, nil
}

// Abandoned implements [Registry].
func (r *MemoryRegistry) Abandoned(ctx context.Context, sessionID string) ([]Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Job
	for _, j := range r.jobs {
		if j.SessionID == sessionID && j.Status == StatusRunning {
			out = append(out, j)
		}
	}
	return out, nil
}

// Requeue implements [Registry].
func (r *MemoryRegistry) Requeue(ctx context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if i := r.indexOf(id); i >= 0 {
			r.jobs[i].Status = StatusQueued
			r.jobs[i].StartedAt = nil
		}
	}
	return nil
}

// PurgeExpired implements [Registry].
func (r *MemoryRegistry) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := len(r.jobs)
	r.jobs = slices.DeleteFunc(r.jobs, func(j Job) bool {
		if !j.Status.Terminal() || j.FinishedAt == nil {
			return false
		}
		retention := ResultRetention
		if j.Status == StatusFailed {
			retention = FailureRetention
		}
		return now.Sub(*j.FinishedAt) > retention
	})
	return before - len(r.jobs), nil
}

// indexOf must be called with the lock held.
func (r *MemoryRegistry) indexOf(id string) int {
	return slices.IndexFunc(r.jobs, func(j Job) bool { return j.ID == id })
}
