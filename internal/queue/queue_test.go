package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb), mr
}

func enqueue(t *testing.T, q *Queue, opts Options) *Job {
	t.Helper()
	job, err := q.Enqueue(context.Background(), TypeAssessment, map[string]string{"k": "v"}, opts)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return job
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first := enqueue(t, q, Options{})
	second := enqueue(t, q, Options{})

	got1, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	got2, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got1.ID != first.ID || got2.ID != second.ID {
		t.Errorf("dequeue order = %s, %s; want %s, %s", got1.ID, got2.ID, first.ID, second.ID)
	}
	if got1.Status != JobActive || got1.Attempts != 1 {
		t.Errorf("dequeued job = status %s attempts %d, want active/1", got1.Status, got1.Attempts)
	}

	empty, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue empty: %v", err)
	}
	if empty != nil {
		t.Errorf("expected nil on empty queue, got %+v", empty)
	}
}

func TestPriorityOrdering(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	low := enqueue(t, q, Options{Priority: 10})
	high := enqueue(t, q, Options{Priority: 5})

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.ID != high.ID {
		t.Errorf("dequeued %s, want high-priority %s", got.ID, high.ID)
	}
	got, _ = q.Dequeue(ctx)
	if got.ID != low.ID {
		t.Errorf("dequeued %s, want %s", got.ID, low.ID)
	}
}

func TestFailSchedulesRetryWithBackoff(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	now := time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)
	q.WithClock(func() time.Time { return now })

	job := enqueue(t, q, Options{BackoffBase: 5 * time.Second})
	got, _ := q.Dequeue(ctx)
	if err := q.Fail(ctx, got.ID, errors.New("graph timeout")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	j, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != JobRetrying {
		t.Fatalf("status = %s, want retrying", j.Status)
	}

	// Not ready yet: first retry waits the base delay.
	if got, _ := q.Dequeue(ctx); got != nil {
		t.Fatalf("dequeued before backoff elapsed")
	}

	now = now.Add(6 * time.Second)
	got, err = q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue after backoff: %v", err)
	}
	if got == nil || got.ID != job.ID {
		t.Fatalf("expected retried job, got %+v", got)
	}
	if got.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", got.Attempts)
	}
}

func TestFailExhaustedGoesToDeadLetter(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	now := time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)
	q.WithClock(func() time.Time { return now })

	job := enqueue(t, q, Options{MaxAttempts: 2, BackoffBase: time.Second})
	for attempt := 1; attempt <= 2; attempt++ {
		got, err := q.Dequeue(ctx)
		if err != nil || got == nil {
			t.Fatalf("dequeue attempt %d: %v %v", attempt, got, err)
		}
		if err := q.Fail(ctx, got.ID, errors.New("still broken")); err != nil {
			t.Fatalf("fail attempt %d: %v", attempt, err)
		}
		now = now.Add(time.Minute)
	}

	j, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != JobFailed {
		t.Errorf("status = %s, want failed", j.Status)
	}
	if j.Error == "" {
		t.Error("error message not recorded")
	}

	stats, _ := q.Stats(ctx)
	if stats.Failed != 1 {
		t.Errorf("failed depth = %d, want 1", stats.Failed)
	}
}

func TestCompleteRecordsRetention(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	job := enqueue(t, q, Options{})
	got, _ := q.Dequeue(ctx)
	if err := q.Complete(ctx, got.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	j, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != JobCompleted || j.Progress != 100 {
		t.Errorf("job = status %s progress %d, want completed/100", j.Status, j.Progress)
	}
	if ttl := mr.TTL(jobKey(job.ID)); ttl <= 0 || ttl > completedTTL {
		t.Errorf("record ttl = %v, want (0, %v]", ttl, completedTTL)
	}

	stats, _ := q.Stats(ctx)
	if stats.Completed != 1 || stats.Active != 0 {
		t.Errorf("stats = %+v, want completed=1 active=0", stats)
	}
}

func TestCancelPendingJob(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job := enqueue(t, q, Options{})
	if err := q.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	j, _ := q.Get(ctx, job.ID)
	if j.Status != JobCancelled || !j.CancelRequested {
		t.Errorf("job = status %s cancelRequested %v, want cancelled/true", j.Status, j.CancelRequested)
	}
	if got, _ := q.Dequeue(ctx); got != nil {
		t.Errorf("cancelled job was dequeued")
	}
}

func TestCancelDelayedRetryJob(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	now := time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)
	q.WithClock(func() time.Time { return now })

	job := enqueue(t, q, Options{BackoffBase: 5 * time.Second})
	got, _ := q.Dequeue(ctx)
	if err := q.Fail(ctx, got.ID, errors.New("graph timeout")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := q.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	j, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != JobCancelled || !j.CancelRequested {
		t.Errorf("job = status %s cancelRequested %v, want cancelled/true", j.Status, j.CancelRequested)
	}
	if j.FinishedAt == nil {
		t.Error("finishedAt not set")
	}
	if ttl := mr.TTL(jobKey(job.ID)); ttl <= 0 || ttl > completedTTL {
		t.Errorf("record ttl = %v, want (0, %v]", ttl, completedTTL)
	}

	// The cancelled retry never comes back, even long after its backoff.
	now = now.Add(time.Hour)
	if got, _ := q.Dequeue(ctx); got != nil {
		t.Errorf("cancelled retry was dequeued: %+v", got)
	}
}

func TestCancelActiveJobSetsFlag(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job := enqueue(t, q, Options{})
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := q.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	j, _ := q.Get(ctx, job.ID)
	if !j.CancelRequested {
		t.Error("cancelRequested not set")
	}
	if j.Status != JobActive {
		t.Errorf("status = %s, want active until the worker acknowledges", j.Status)
	}

	if err := q.Acknowledge(ctx, job.ID); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	j, _ = q.Get(ctx, job.ID)
	if j.Status != JobCancelled {
		t.Errorf("status = %s, want cancelled", j.Status)
	}
}

func TestSetProgressMonotonic(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job := enqueue(t, q, Options{})
	if err := q.SetProgress(ctx, job.ID, 40); err != nil {
		t.Fatalf("set progress: %v", err)
	}
	if err := q.SetProgress(ctx, job.ID, 20); err != nil {
		t.Fatalf("set lower progress: %v", err)
	}

	j, _ := q.Get(ctx, job.ID)
	if j.Progress != 40 {
		t.Errorf("progress = %d, want 40 (lower writes ignored)", j.Progress)
	}
}

func TestGetUnknownJob(t *testing.T) {
	q, _ := newTestQueue(t)
	if _, err := q.Get(context.Background(), "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}
