package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/maes-platform/compliance-core/internal/metrics"
	"github.com/maes-platform/compliance-core/internal/model"
	"github.com/maes-platform/compliance-core/internal/queue"
	"github.com/maes-platform/compliance-core/internal/store"
)

// schedulePriority ranks scheduled runs ahead of interactive enqueues; lower
// values dequeue first.
const schedulePriority = 5

// scheduleBackoffBase is the retry backoff seed for scheduled jobs.
const scheduleBackoffBase = 10 * time.Second

// Scheduler fires recurring assessments. Each active schedule holds an armed
// timer for its next run; an hourly sweep catches anything the timers missed
// (process restarts, clock jumps, rows touched by other instances).
type Scheduler struct {
	store store.Store
	queue *queue.Queue
	now   func() time.Time
	cron  *cron.Cron

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
	fired  int64
	ctx    context.Context
}

// New builds a Scheduler.
func New(st store.Store, q *queue.Queue) *Scheduler {
	return &Scheduler{
		store:  st,
		queue:  q,
		now:    func() time.Time { return time.Now().UTC() },
		timers: make(map[uuid.UUID]*time.Timer),
	}
}

// WithClock overrides the scheduler clock (tests).
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start arms timers for all active schedules and begins the hourly sweep.
// It returns after startup; the timers and cron run until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx

	schedules, err := s.store.Schedules().ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load active schedules: %w", err)
	}
	for _, sched := range schedules {
		s.arm(sched)
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc("@hourly", func() { s.Sweep(s.ctx) }); err != nil {
		return err
	}
	s.cron.Start()

	log.Ctx(ctx).Info().Int("schedules", len(schedules)).Msg("scheduler started")
	return nil
}

// Stop disarms all timers and halts the sweep.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Create validates and persists a schedule, computes its first run and arms
// its timer.
func (s *Scheduler) Create(ctx context.Context, sched *model.Schedule) error {
	if !sched.Frequency.Valid() {
		return fmt.Errorf("unknown frequency %q", sched.Frequency)
	}
	if !sched.Benchmark.Valid() {
		return fmt.Errorf("unknown benchmark kind %q", sched.Benchmark)
	}
	next := NextAfter(sched.Frequency, s.now())
	sched.NextRunAt = &next
	if err := s.store.Schedules().Create(ctx, sched); err != nil {
		return err
	}
	if sched.Active {
		s.arm(*sched)
	}
	log.Ctx(ctx).Info().
		Str("scheduleId", sched.ID.String()).
		Str("frequency", string(sched.Frequency)).
		Time("nextRunAt", next).
		Msg("schedule created")
	return nil
}

// Update persists schedule changes and re-arms or disarms its timer. A
// frequency change recomputes the next run.
func (s *Scheduler) Update(ctx context.Context, sched *model.Schedule) error {
	if !sched.Frequency.Valid() {
		return fmt.Errorf("unknown frequency %q", sched.Frequency)
	}
	prev, err := s.store.Schedules().Get(ctx, sched.ID)
	if err != nil {
		return err
	}
	if prev.Frequency != sched.Frequency || sched.NextRunAt == nil {
		next := NextAfter(sched.Frequency, s.now())
		sched.NextRunAt = &next
	}
	if err := s.store.Schedules().Update(ctx, sched); err != nil {
		return err
	}
	s.disarm(sched.ID)
	if sched.Active {
		s.arm(*sched)
	}
	return nil
}

// Delete removes a schedule, disarming its timer before the row goes away so
// no fire can race the delete.
func (s *Scheduler) Delete(ctx context.Context, id uuid.UUID) error {
	s.disarm(id)
	return s.store.Schedules().Delete(ctx, id)
}

// Sweep fires every due schedule once. It backstops the per-schedule timers.
func (s *Scheduler) Sweep(ctx context.Context) {
	due, err := s.store.Schedules().ListDue(ctx, s.now())
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("sweep: list due schedules")
		return
	}
	for _, sched := range due {
		if err := s.fire(ctx, sched); err != nil {
			log.Ctx(ctx).Error().Err(err).
				Str("scheduleId", sched.ID.String()).
				Msg("sweep: fire schedule")
		}
	}
}

// Stats reports scheduler state.
type Stats struct {
	ActiveSchedules int       `json:"activeSchedules"`
	ArmedTimers     int       `json:"armedTimers"`
	TotalFired      int64     `json:"totalFired"`
	NextWakeAt      time.Time `json:"nextWakeAt,omitempty"`
}

// Stats returns a point-in-time view of the scheduler.
func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	active, err := s.store.Schedules().ListActive(ctx)
	if err != nil {
		return Stats{}, err
	}
	var next time.Time
	for _, sched := range active {
		if sched.NextRunAt == nil {
			continue
		}
		if next.IsZero() || sched.NextRunAt.Before(next) {
			next = *sched.NextRunAt
		}
	}
	s.mu.Lock()
	armed := len(s.timers)
	fired := s.fired
	s.mu.Unlock()
	return Stats{
		ActiveSchedules: len(active),
		ArmedTimers:     armed,
		TotalFired:      fired,
		NextWakeAt:      next,
	}, nil
}

// arm sets (or resets) the timer for one schedule.
func (s *Scheduler) arm(sched model.Schedule) {
	if sched.NextRunAt == nil {
		return
	}
	delay := sched.NextRunAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	id := sched.ID

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(delay, func() { s.onTimer(id) })
}

// disarm stops and forgets the timer for one schedule.
func (s *Scheduler) disarm(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) onTimer(id uuid.UUID) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	sched, err := s.store.Schedules().Get(ctx, id)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("scheduleId", id.String()).Msg("timer fired for missing schedule")
		s.disarm(id)
		return
	}
	if !sched.Active {
		s.disarm(id)
		return
	}
	// Another instance may have fired and advanced the row already; follow
	// the new pointer instead of firing twice.
	if sched.NextRunAt != nil && sched.NextRunAt.After(s.now().Add(time.Minute)) {
		s.arm(sched)
		return
	}
	if err := s.fire(ctx, sched); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("scheduleId", id.String()).Msg("fire schedule")
		// Leave the row due; the hourly sweep retries it.
	}
}

// fire creates the pending assessment row, enqueues its job, and advances
// the schedule pointers. Advancing before re-arming makes the fire
// effectively once per due window even when the timer and the sweep race.
func (s *Scheduler) fire(ctx context.Context, sched model.Schedule) error {
	now := s.now()
	a := model.Assessment{
		TenantID:    sched.TenantID,
		Benchmark:   sched.Benchmark,
		Name:        fmt.Sprintf("%s - %s", sched.Name, now.Format(time.RFC3339)),
		TriggeredBy: sched.ID.String(),
		Status:      model.AssessmentPending,
		Parameters:  sched.Parameters,
	}
	if err := s.store.Assessments().Create(ctx, &a); err != nil {
		return fmt.Errorf("create assessment: %w", err)
	}

	job, err := s.queue.Enqueue(ctx, queue.TypeAssessment, queue.AssessmentPayload{
		AssessmentID: a.ID,
		TenantID:     sched.TenantID,
		Benchmark:    sched.Benchmark,
		Name:         a.Name,
		TriggeredBy:  a.TriggeredBy,
	}, queue.Options{
		Priority:    schedulePriority,
		BackoffBase: scheduleBackoffBase,
	})
	if err != nil {
		return fmt.Errorf("enqueue assessment job: %w", err)
	}

	next := NextAfter(sched.Frequency, now)
	if err := s.store.Schedules().Advance(ctx, sched.ID, now, next, a.ID); err != nil {
		return fmt.Errorf("advance schedule: %w", err)
	}
	sched.NextRunAt = &next
	s.arm(sched)

	s.mu.Lock()
	s.fired++
	s.mu.Unlock()
	metrics.SchedulesFired.Inc()
	metrics.AssessmentsStarted.WithLabelValues("scheduler").Inc()

	log.Ctx(ctx).Info().
		Str("scheduleId", sched.ID.String()).
		Str("assessmentId", a.ID.String()).
		Str("jobId", job.ID).
		Time("nextRunAt", next).
		Msg("schedule fired")
	return nil
}
