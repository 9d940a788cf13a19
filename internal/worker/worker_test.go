package worker

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/maes-platform/compliance-core/internal/catalog"
	"github.com/maes-platform/compliance-core/internal/checkers"
	"github.com/maes-platform/compliance-core/internal/engine"
	"github.com/maes-platform/compliance-core/internal/graph"
	"github.com/maes-platform/compliance-core/internal/model"
	"github.com/maes-platform/compliance-core/internal/queue"
	"github.com/maes-platform/compliance-core/internal/store/storetest"
)

// nullGraph satisfies the engine's client requirement; manual-review controls
// never touch Graph.
type nullGraph struct{}

func (nullGraph) Get(context.Context, string, url.Values) (json.RawMessage, error) {
	return json.RawMessage(`{"value":[]}`), nil
}

type harness struct {
	store *storetest.Memory
	queue *queue.Queue
	pool  *Pool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st := storetest.New()
	q := queue.New(rdb)

	cat := catalog.New()
	if err := cat.Register(model.ControlDefinition{
		ID:        "1.1.2",
		Benchmark: model.BenchmarkCISv4,
		Section:   "1.1 Admin Accounts",
		Title:     "Cloud-only admin accounts",
		Severity:  model.SeverityLevel1,
		Weight:    1.0,
		Active:    true,
	}); err != nil {
		t.Fatalf("register control: %v", err)
	}

	publisher := NewProgressPublisher(q)
	eng := engine.New(engine.Config{
		Store:     st,
		Catalog:   cat,
		Registry:  checkers.NewRegistry(),
		ClientFor: func(model.Tenant) (graph.Caller, error) { return nullGraph{}, nil },
		Progress:  publisher.Publish,
	})
	pool := New(Config{
		Queue:        q,
		Engine:       eng,
		Progress:     publisher,
		Concurrency:  1,
		PollInterval: 10 * time.Millisecond,
	})
	return &harness{store: st, queue: q, pool: pool}
}

func (h *harness) seedAssessment(t *testing.T) (model.Tenant, model.Assessment) {
	t.Helper()
	ctx := context.Background()
	tenant := model.Tenant{
		DisplayName:       "Contoso",
		DirectoryTenantID: "11111111-2222-3333-4444-555555555555",
		Credentials:       model.Credentials{ClientID: "app-1"},
		Active:            true,
	}
	if err := h.store.Tenants().Create(ctx, &tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	a := model.Assessment{
		TenantID:    tenant.ID,
		Benchmark:   model.BenchmarkCISv4,
		Name:        "worker run",
		TriggeredBy: "api",
		Status:      model.AssessmentPending,
	}
	if err := h.store.Assessments().Create(ctx, &a); err != nil {
		t.Fatalf("create assessment: %v", err)
	}
	return tenant, a
}

func (h *harness) enqueue(t *testing.T, a model.Assessment) *queue.Job {
	t.Helper()
	job, err := h.queue.Enqueue(context.Background(), queue.TypeAssessment, queue.AssessmentPayload{
		AssessmentID: a.ID,
		TenantID:     a.TenantID,
		Benchmark:    a.Benchmark,
		Name:         a.Name,
		TriggeredBy:  a.TriggeredBy,
	}, queue.Options{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return job
}

// waitForJob polls until the job reaches a wanted status or the deadline hits.
func (h *harness) waitForJob(t *testing.T, id string, want queue.JobStatus) queue.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := h.queue.Get(context.Background(), id)
		if err == nil && job.Status == want {
			return *job
		}
		time.Sleep(20 * time.Millisecond)
	}
	job, err := h.queue.Get(context.Background(), id)
	t.Fatalf("job %s never reached %s (last: %+v, err %v)", id, want, job, err)
	return queue.Job{}
}

func TestPoolProcessesAssessmentJob(t *testing.T) {
	h := newHarness(t)
	_, a := h.seedAssessment(t)
	job := h.enqueue(t, a)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.pool.Run(ctx)
	}()

	done := h.waitForJob(t, job.ID, queue.JobCompleted)
	cancel()
	wg.Wait()

	if done.Progress != 100 {
		t.Errorf("job progress = %d, want 100", done.Progress)
	}

	stored, err := h.store.Assessments().Get(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("get assessment: %v", err)
	}
	if stored.Status != model.AssessmentCompleted {
		t.Errorf("assessment status = %s, want completed", stored.Status)
	}
	if stored.Totals.ManualReview != 1 || stored.Totals.Total != 1 {
		t.Errorf("totals = %+v, want 1 manual review of 1", stored.Totals)
	}
}

func TestPoolSkipsJobCancelledBeforePickup(t *testing.T) {
	h := newHarness(t)
	_, a := h.seedAssessment(t)
	job := h.enqueue(t, a)

	ctx := context.Background()
	picked, err := h.queue.Dequeue(ctx)
	if err != nil || picked == nil {
		t.Fatalf("dequeue: %v %v", picked, err)
	}
	if err := h.queue.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	picked.CancelRequested = true

	h.pool.process(ctx, picked)

	final, err := h.queue.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != queue.JobCancelled {
		t.Errorf("status = %s, want cancelled", final.Status)
	}
	stored, _ := h.store.Assessments().Get(ctx, a.ID)
	if stored.Status != model.AssessmentPending {
		t.Errorf("assessment status = %s, want untouched pending", stored.Status)
	}
}

func TestPoolAcknowledgesCancelledAssessment(t *testing.T) {
	h := newHarness(t)
	_, a := h.seedAssessment(t)
	job := h.enqueue(t, a)

	ctx := context.Background()
	if err := h.store.Assessments().Cancel(ctx, a.ID, time.Now().UTC()); err != nil {
		t.Fatalf("cancel assessment: %v", err)
	}
	picked, err := h.queue.Dequeue(ctx)
	if err != nil || picked == nil {
		t.Fatalf("dequeue: %v %v", picked, err)
	}

	h.pool.process(ctx, picked)

	final, err := h.queue.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != queue.JobCancelled {
		t.Errorf("status = %s, want cancelled for a cancelled assessment", final.Status)
	}
}

func TestPoolFailsUnknownJobType(t *testing.T) {
	h := newHarness(t)

	ctx := context.Background()
	job, err := h.queue.Enqueue(ctx, "bogus", map[string]string{}, queue.Options{MaxAttempts: 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	picked, err := h.queue.Dequeue(ctx)
	if err != nil || picked == nil {
		t.Fatalf("dequeue: %v %v", picked, err)
	}

	h.pool.process(ctx, picked)

	final, err := h.queue.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != queue.JobFailed {
		t.Errorf("status = %s, want failed", final.Status)
	}
	if final.Error == "" {
		t.Error("failure cause not recorded")
	}
}

func TestProgressPublisherForwardsTrackedJobs(t *testing.T) {
	h := newHarness(t)
	_, a := h.seedAssessment(t)
	job := h.enqueue(t, a)

	ctx := context.Background()
	pub := NewProgressPublisher(h.queue)

	// Untracked assessments are dropped silently.
	pub.Publish(ctx, a.ID, 30)
	got, _ := h.queue.Get(ctx, job.ID)
	if got.Progress != 0 {
		t.Errorf("progress = %d, want 0 before tracking", got.Progress)
	}

	pub.Track(a.ID, job.ID)
	pub.Publish(ctx, a.ID, 30)
	got, _ = h.queue.Get(ctx, job.ID)
	if got.Progress != 30 {
		t.Errorf("progress = %d, want 30", got.Progress)
	}

	pub.Forget(a.ID)
	pub.Publish(ctx, a.ID, 60)
	got, _ = h.queue.Get(ctx, job.ID)
	if got.Progress != 30 {
		t.Errorf("progress = %d, want 30 after forget", got.Progress)
	}
}
