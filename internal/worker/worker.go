package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/maes-platform/compliance-core/internal/engine"
	"github.com/maes-platform/compliance-core/internal/metrics"
	"github.com/maes-platform/compliance-core/internal/model"
	"github.com/maes-platform/compliance-core/internal/queue"
)

// DefaultPollInterval is the idle wait between dequeue attempts.
const DefaultPollInterval = time.Second

// cancelCheckInterval is how often a running job re-reads its cancel flag.
const cancelCheckInterval = 2 * time.Second

// Pool runs assessment jobs from the queue on a fixed set of goroutines.
type Pool struct {
	queue        *queue.Queue
	engine       *engine.Engine
	progress     *ProgressPublisher
	concurrency  int
	pollInterval time.Duration
}

// Config wires a Pool.
type Config struct {
	Queue  *queue.Queue
	Engine *engine.Engine

	// Progress, when set, forwards engine progress onto job records. The
	// same publisher must back the engine's Progress callback.
	Progress *ProgressPublisher

	// Concurrency is the number of worker goroutines. Default 2.
	Concurrency int

	// PollInterval overrides the idle polling cadence (tests).
	PollInterval time.Duration
}

// New builds a Pool.
func New(cfg Config) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Pool{
		queue:        cfg.Queue,
		engine:       cfg.Engine,
		progress:     cfg.Progress,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
	}
}

// Run blocks until ctx is done, processing jobs on p.concurrency goroutines.
// In-flight jobs are given a chance to observe cancellation and finalize
// before Run returns.
func (p *Pool) Run(ctx context.Context) {
	log.Ctx(ctx).Info().Int("concurrency", p.concurrency).Msg("worker pool starting")

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.loop(ctx, n)
		}(i)
	}
	wg.Wait()
	log.Ctx(ctx).Info().Msg("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, n int) {
	logger := log.Ctx(ctx).With().Int("worker", n).Logger()
	ctx = logger.WithContext(ctx)

	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("dequeue failed")
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}
		p.process(ctx, job)
	}
}

// process runs one job through the engine and settles it with the queue.
func (p *Pool) process(ctx context.Context, job *queue.Job) {
	logger := log.Ctx(ctx).With().
		Str("jobId", job.ID).
		Str("type", job.Type).
		Int("attempt", job.Attempts).
		Logger()
	ctx = logger.WithContext(ctx)

	if job.CancelRequested {
		logger.Info().Msg("job cancelled before pickup")
		if err := p.queue.Acknowledge(ctx, job.ID); err != nil {
			logger.Error().Err(err).Msg("could not acknowledge cancelled job")
		}
		return
	}
	if job.Type != queue.TypeAssessment {
		p.settle(ctx, job, fmt.Errorf("unknown job type %q", job.Type))
		return
	}

	var payload queue.AssessmentPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		p.settle(ctx, job, fmt.Errorf("decode payload: %w", err))
		return
	}

	if p.progress != nil {
		p.progress.Track(payload.AssessmentID, job.ID)
		defer p.progress.Forget(payload.AssessmentID)
	}

	// The run context is cancelled when the pool shuts down or when a
	// cancel request lands on the job mid-run.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		p.watchCancel(runCtx, job.ID, stop)
	}()

	started := time.Now()
	metrics.JobsActive.Inc()
	a, err := p.engine.Run(runCtx, engine.RunRequest{
		AssessmentID: payload.AssessmentID,
		TenantID:     payload.TenantID,
		Benchmark:    payload.Benchmark,
		Name:         payload.Name,
		TriggeredBy:  payload.TriggeredBy,
	})
	metrics.JobsActive.Dec()
	metrics.JobDuration.Observe(time.Since(started).Seconds())
	stop()
	<-watchDone

	if err == nil && a.Status == model.AssessmentCancelled {
		// The engine finalized the assessment as cancelled; the job follows.
		logger.Info().Msg("job cancelled mid-run")
		if err := p.queue.Acknowledge(context.WithoutCancel(ctx), job.ID); err != nil {
			logger.Error().Err(err).Msg("could not acknowledge cancelled job")
		}
		metrics.JobsProcessed.WithLabelValues("cancelled").Inc()
		return
	}
	p.settle(ctx, job, err)
}

// watchCancel polls the job's cancel flag and stops the run when it is set.
func (p *Pool) watchCancel(ctx context.Context, jobID string, stop context.CancelFunc) {
	ticker := time.NewTicker(cancelCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := p.queue.Get(ctx, jobID)
			if err != nil {
				continue
			}
			if job.CancelRequested {
				log.Ctx(ctx).Info().Str("jobId", jobID).Msg("cancel requested, stopping run")
				stop()
				return
			}
		}
	}
}

// settle completes or fails the job. Settlement uses a fresh context so a
// shutting-down pool still records the outcome.
func (p *Pool) settle(ctx context.Context, job *queue.Job, runErr error) {
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if runErr == nil {
		if err := p.queue.Complete(settleCtx, job.ID); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("could not complete job")
			return
		}
		metrics.JobsProcessed.WithLabelValues("completed").Inc()
		return
	}
	if err := p.queue.Fail(settleCtx, job.ID, runErr); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("could not fail job")
		return
	}
	metrics.JobsProcessed.WithLabelValues("failed").Inc()
}

// ProgressPublisher adapts queue progress publishing to the engine's
// progress callback. The assessment id equals the job payload key, so the
// publisher needs the job id captured at enqueue time.
type ProgressPublisher struct {
	Queue *queue.Queue

	mu   sync.RWMutex
	jobs map[uuid.UUID]string
}

// NewProgressPublisher builds a publisher.
func NewProgressPublisher(q *queue.Queue) *ProgressPublisher {
	return &ProgressPublisher{Queue: q, jobs: make(map[uuid.UUID]string)}
}

// Track associates an assessment with its job for progress forwarding.
func (p *ProgressPublisher) Track(assessmentID uuid.UUID, jobID string) {
	p.mu.Lock()
	p.jobs[assessmentID] = jobID
	p.mu.Unlock()
}

// Forget drops the association once the job settles.
func (p *ProgressPublisher) Forget(assessmentID uuid.UUID) {
	p.mu.Lock()
	delete(p.jobs, assessmentID)
	p.mu.Unlock()
}

// Publish forwards engine progress onto the job record.
func (p *ProgressPublisher) Publish(ctx context.Context, assessmentID uuid.UUID, progress int) {
	p.mu.RLock()
	jobID, ok := p.jobs[assessmentID]
	p.mu.RUnlock()
	if !ok {
		return
	}
	if err := p.Queue.SetProgress(ctx, jobID, progress); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("jobId", jobID).Msg("could not publish progress")
	}
}
