package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls map[string]int
	fail  func(e *Entry) error
}

func newFakeRunner(fail func(e *Entry) error) *fakeRunner {
	return &fakeRunner{calls: make(map[string]int), fail: fail}
}

func (r *fakeRunner) Run(ctx context.Context, e *Entry) error {
	r.mu.Lock()
	r.calls[e.JobID]++
	r.mu.Unlock()
	if r.fail != nil {
		return r.fail(e)
	}
	return nil
}

func (r *fakeRunner) count(jobID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[jobID]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPoolProcessesJobs(t *testing.T) {
	q, _ := newTestQueue(t, Config{PollInterval: 20 * time.Millisecond})
	runner := newFakeRunner(nil)
	pool := NewPool(q, runner, 2, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Start(ctx)
		close(done)
	}()

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		mustEnqueue(t, q, id)
	}

	waitFor(t, 3*time.Second, func() bool {
		counts, err := q.Counts(context.Background())
		return err == nil && counts.Completed == 3
	})

	cancel()
	<-done

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		if runner.count(id) != 1 {
			t.Errorf("runner ran %s %d times, want 1", id, runner.count(id))
		}
	}
}

func TestPoolRetriesUntilCap(t *testing.T) {
	q, _ := newTestQueue(t, Config{
		PollInterval: 20 * time.Millisecond,
		MaxAttempts:  3,
		Backoff:      ExponentialBackoff(time.Millisecond),
	})
	runner := newFakeRunner(func(e *Entry) error {
		return errors.New("generation exploded")
	})
	pool := NewPool(q, runner, 1, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Start(ctx)
		close(done)
	}()

	mustEnqueue(t, q, "doomed")

	waitFor(t, 3*time.Second, func() bool {
		counts, err := q.Counts(context.Background())
		return err == nil && counts.Failed == 1
	})

	cancel()
	<-done

	if got := runner.count("doomed"); got != 3 {
		t.Errorf("runner ran %d times, want the full 3 attempts", got)
	}
}

func TestPoolSize(t *testing.T) {
	q, _ := newTestQueue(t, Config{})
	if got := NewPool(q, newFakeRunner(nil), 0, zerolog.Nop()).Size(); got != 1 {
		t.Errorf("size = %d, want clamp to 1", got)
	}
	if got := NewPool(q, newFakeRunner(nil), 4, zerolog.Nop()).Size(); got != 4 {
		t.Errorf("size = %d, want 4", got)
	}
}
