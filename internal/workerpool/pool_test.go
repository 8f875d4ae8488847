package workerpool

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starcrew-ai/starcrew/internal/errs"
	"github.com/starcrew-ai/starcrew/internal/resilience"
)

// fastRetry keeps backoff out of test wall time.
var fastRetry = resilience.RetryConfig{
	Delays:      []time.Duration{time.Millisecond},
	MaxAttempts: 3,
}

func startPool(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestEnqueueAwait_RoundTrip(t *testing.T) {
	t.Parallel()

	pool := New(NewMemoryRegistry(),
		WithWorkers(2), WithRetry(fastRetry), WithPollInterval(time.Millisecond))
	pool.Register(KindPlayerIntent, func(ctx context.Context, job Job) (json.RawMessage, error) {
		var payload struct {
			Prompt string `json:"prompt"`
		}
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"intent": "act on " + payload.Prompt})
	})
	startPool(t, pool)

	jobID, err := pool.Enqueue(t.Context(), "session_1", "agent_kit", KindPlayerIntent,
		map[string]string{"prompt": "the derelict"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	result, err := pool.Await(t.Context(), jobID, 5*time.Second)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(result, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got["intent"] != "act on the derelict" {
		t.Errorf("result = %v", got)
	}
}

func TestEnqueue_RejectsBadInput(t *testing.T) {
	t.Parallel()

	pool := New(NewMemoryRegistry())
	if _, err := pool.Enqueue(t.Context(), "session_1", "", "mystery_kind", nil); errs.KindOf(err) != errs.KindValidation {
		t.Errorf("unknown kind: error kind = %v, want validation", errs.KindOf(err))
	}
	if _, err := pool.Enqueue(t.Context(), "", "", KindPlayerIntent, nil); errs.KindOf(err) != errs.KindValidation {
		t.Errorf("missing session: error kind = %v, want validation", errs.KindOf(err))
	}
}

func TestTransientErrorsRetryUntilSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	pool := New(NewMemoryRegistry(),
		WithWorkers(1), WithRetry(fastRetry), WithPollInterval(time.Millisecond))
	pool.Register(KindCharacterAction, func(ctx context.Context, job Job) (json.RawMessage, error) {
		if calls.Add(1) < 3 {
			return nil, errs.Transientf("rate limited")
		}
		return json.RawMessage(`{"ok":true}`), nil
	})
	startPool(t, pool)

	jobID, err := pool.Enqueue(t.Context(), "session_1", "agent_kit", KindCharacterAction, nil)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := pool.Await(t.Context(), jobID, 5*time.Second); err != nil {
		t.Fatalf("Await() error = %v after transient retries", err)
	}
	if calls.Load() != 3 {
		t.Errorf("handler calls = %d, want 3", calls.Load())
	}
}

func TestNonRetryableErrorFailsImmediately(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	pool := New(NewMemoryRegistry(),
		WithWorkers(1), WithRetry(fastRetry), WithPollInterval(time.Millisecond))
	pool.Register(KindValidationSemantic, func(ctx context.Context, job Job) (json.RawMessage, error) {
		calls.Add(1)
		return nil, errs.Permission("characters may not read the table talk")
	})
	startPool(t, pool)

	jobID, _ := pool.Enqueue(t.Context(), "session_1", "", KindValidationSemantic, nil)
	_, err := pool.Await(t.Context(), jobID, 5*time.Second)
	if errs.KindOf(err) != errs.KindPhaseFailure {
		t.Fatalf("Await() error kind = %v, want phase failure", errs.KindOf(err))
	}
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1 (no retry on permission errors)", calls.Load())
	}
}

func TestAwaitAll_CollectsEveryResult(t *testing.T) {
	t.Parallel()

	pool := New(NewMemoryRegistry(),
		WithWorkers(3), WithRetry(fastRetry), WithPollInterval(time.Millisecond))
	pool.Register(KindStanceExtraction, func(ctx context.Context, job Job) (json.RawMessage, error) {
		return json.Marshal(map[string]string{"agent": job.AgentID})
	})
	startPool(t, pool)

	agents := []string{"agent_kit", "agent_zara", "agent_vex"}
	jobIDs := make([]string, len(agents))
	for i, agent := range agents {
		id, err := pool.Enqueue(t.Context(), "session_1", agent, KindStanceExtraction, nil)
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		jobIDs[i] = id
	}

	results, err := pool.AwaitAll(t.Context(), jobIDs, 5*time.Second)
	if err != nil {
		t.Fatalf("AwaitAll() error = %v", err)
	}
	if len(results) != len(agents) {
		t.Errorf("got %d results, want %d", len(results), len(agents))
	}
}

func TestCancelSession_DiscardsQueuedWork(t *testing.T) {
	t.Parallel()

	reg := NewMemoryRegistry()
	pool := New(reg, WithPollInterval(time.Millisecond))
	pool.Register(KindPlayerIntent, func(ctx context.Context, job Job) (json.RawMessage, error) {
		return nil, errors.New("never runs: pool not started")
	})

	jobID, _ := pool.Enqueue(t.Context(), "session_1", "agent_kit", KindPlayerIntent, nil)
	n, err := pool.CancelSession(t.Context(), "session_1")
	if err != nil {
		t.Fatalf("CancelSession() error = %v", err)
	}
	if n != 1 {
		t.Errorf("cancelled %d jobs, want 1", n)
	}

	_, err = pool.Await(t.Context(), jobID, time.Second)
	if errs.KindOf(err) != errs.KindPhaseFailure {
		t.Errorf("awaiting a cancelled job: error kind = %v, want phase failure", errs.KindOf(err))
	}
}

func TestCancelSession_LateCompletionLoses(t *testing.T) {
	t.Parallel()

	reg := NewMemoryRegistry()
	if err := reg.Enqueue(t.Context(), Job{
		ID: "job_late", SessionID: "session_1", Kind: KindPlayerIntent,
		Status: StatusQueued, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Claim(t.Context(), []Kind{KindPlayerIntent}); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.CancelSession(t.Context(), "session_1"); err != nil {
		t.Fatalf("CancelSession() error = %v", err)
	}

	// A worker that was still holding the job reports in after the cancel.
	if err := reg.Complete(t.Context(), "job_late", json.RawMessage(`{"ok":true}`)); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	job, err := reg.Get(t.Context(), "job_late")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled to survive the late completion", job.Status)
	}
	if len(job.Result) != 0 {
		t.Errorf("result = %s, want none on a cancelled job", job.Result)
	}
}

func TestRecover_RequeuesAbandonedJobs(t *testing.T) {
	t.Parallel()

	reg := NewMemoryRegistry()
	pool := New(reg, WithPollInterval(time.Millisecond))

	// Simulate a worker that claimed a job and died.
	if err := reg.Enqueue(t.Context(), Job{
		ID: "job_abandoned", SessionID: "session_1", Kind: KindCharacterAction,
		Status: StatusQueued, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Claim(t.Context(), []Kind{KindCharacterAction}); err != nil {
		t.Fatal(err)
	}

	recovered, err := pool.Recover(t.Context(), "session_1")
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if len(recovered) != 1 || recovered[0] != "job_abandoned" {
		t.Fatalf("recovered = %v, want [job_abandoned]", recovered)
	}

	job, _ := reg.Get(t.Context(), "job_abandoned")
	if job.Status != StatusQueued {
		t.Errorf("recovered job status = %s, want queued", job.Status)
	}
}

func TestPurgeExpired_AppliesRetentionWindows(t *testing.T) {
	t.Parallel()

	reg := NewMemoryRegistry()
	now := time.Now().UTC()

	old := func(age time.Duration) *time.Time {
		t := now.Add(-age)
		return &t
	}
	seed := []Job{
		{ID: "done_fresh", Status: StatusDone, FinishedAt: old(30 * time.Minute)},
		{ID: "done_stale", Status: StatusDone, FinishedAt: old(2 * time.Hour)},
		{ID: "failed_fresh", Status: StatusFailed, FinishedAt: old(2 * time.Hour)},
		{ID: "failed_stale", Status: StatusFailed, FinishedAt: old(25 * time.Hour)},
		{ID: "still_running", Status: StatusRunning},
	}
	for _, j := range seed {
		j.SessionID = "session_1"
		j.Kind = KindPlayerIntent
		if err := reg.Enqueue(t.Context(), j); err != nil {
			t.Fatal(err)
		}
	}

	purged, err := reg.PurgeExpired(t.Context(), now)
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if purged != 2 {
		t.Errorf("purged %d jobs, want 2 (stale done + stale failed)", purged)
	}
	for _, id := range []string{"done_fresh", "failed_fresh", "still_running"} {
		if j, _ := reg.Get(t.Context(), id); j == nil {
			t.Errorf("job %s purged inside its retention window", id)
		}
	}
}
