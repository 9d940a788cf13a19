package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/maes-platform/compliance-core/internal/catalog"
	"github.com/maes-platform/compliance-core/internal/checkers"
	"github.com/maes-platform/compliance-core/internal/graph"
	"github.com/maes-platform/compliance-core/internal/metrics"
	"github.com/maes-platform/compliance-core/internal/model"
	"github.com/maes-platform/compliance-core/internal/store"
)

// ErrEmptyBenchmark is returned when a benchmark has no active controls.
var ErrEmptyBenchmark = errors.New("benchmark has no active controls")

// ClientFunc acquires an authenticated Graph caller for a tenant.
type ClientFunc func(tenant model.Tenant) (graph.Caller, error)

// ProgressFunc receives monotonic progress updates during a run.
type ProgressFunc func(ctx context.Context, assessmentID uuid.UUID, progress int)

// Config wires an Engine.
type Config struct {
	Store     store.Store
	Catalog   *catalog.Catalog
	Registry  *checkers.Registry
	ClientFor ClientFunc

	// Progress is optional; nil disables external progress broadcasting.
	Progress ProgressFunc

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// Engine executes a benchmark against one tenant and persists the results.
type Engine struct {
	store     store.Store
	catalog   *catalog.Catalog
	registry  *checkers.Registry
	clientFor ClientFunc
	progress  ProgressFunc
	now       func() time.Time
}

// New builds an Engine.
func New(cfg Config) *Engine {
	e := &Engine{
		store:     cfg.Store,
		catalog:   cfg.Catalog,
		registry:  cfg.Registry,
		clientFor: cfg.ClientFor,
		progress:  cfg.Progress,
		now:       cfg.Now,
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.progress == nil {
		e.progress = func(context.Context, uuid.UUID, int) {}
	}
	return e
}

// RunRequest describes one assessment run. When AssessmentID is set the
// engine adopts the existing row (created by the enqueuer); otherwise it
// creates one.
type RunRequest struct {
	AssessmentID uuid.UUID
	TenantID     uuid.UUID
	Benchmark    model.BenchmarkKind
	Name         string
	TriggeredBy  string
	Parameters   map[string]any
}

// Run executes the benchmark. Re-running a terminal assessment is a no-op
// that returns the stored summary; this is the idempotence boundary for
// at-least-once job delivery. Per-control failures never abort the run;
// returned errors indicate infrastructure-level failures the caller may
// retry.
func (e *Engine) Run(ctx context.Context, req RunRequest) (model.Assessment, error) {
	a, err := e.adopt(ctx, req)
	if err != nil {
		return model.Assessment{}, err
	}
	if a.Status.Terminal() {
		log.Ctx(ctx).Info().
			Str("assessmentId", a.ID.String()).
			Str("status", string(a.Status)).
			Msg("assessment already terminal, skipping")
		return a, nil
	}

	logger := log.Ctx(ctx).With().
		Str("assessmentId", a.ID.String()).
		Str("tenantId", a.TenantID.String()).
		Str("benchmark", string(a.Benchmark)).
		Logger()
	ctx = logger.WithContext(ctx)

	startedAt := e.now()
	if a.Status == model.AssessmentPending {
		if err := e.store.Assessments().MarkRunning(ctx, a.ID, startedAt); err != nil {
			return a, err
		}
		a.Status = model.AssessmentRunning
		a.StartedAt = &startedAt
	} else if a.StartedAt != nil {
		// Adopted mid-run after a worker crash; keep the original start.
		startedAt = *a.StartedAt
	}
	a.Progress = 5
	e.progress(ctx, a.ID, 5)

	tenant, err := e.store.Tenants().Get(ctx, a.TenantID)
	if err != nil {
		return e.fail(ctx, a, fmt.Errorf("resolve tenant: %w", err))
	}
	if !tenant.Active {
		return e.fail(ctx, a, fmt.Errorf("tenant %s is inactive", tenant.ID))
	}

	client, err := e.clientFor(tenant)
	if err != nil {
		return e.fail(ctx, a, err)
	}

	// Capability probe outcome rides along on the assessment parameters.
	// A degraded probe is recorded but does not stop the run.
	probe := graph.TestConnection(ctx, client)
	params := a.Parameters
	if params == nil {
		params = map[string]any{}
	}
	params["capabilityReport"] = probe
	if err := e.store.Assessments().SetParameters(ctx, a.ID, params); err != nil {
		return e.fail(ctx, a, err)
	}
	if !probe.Success {
		logger.Warn().Interface("probes", probe.Probes).Msg("capability probe degraded")
	}

	controls := e.catalog.ActiveControls(a.Benchmark)
	if len(controls) == 0 {
		a, _ = e.fail(ctx, a, ErrEmptyBenchmark)
		return a, ErrEmptyBenchmark
	}

	var results []model.ControlResult
	totals := model.Totals{}
	for i, control := range controls {
		if ctx.Err() != nil {
			return e.cancel(ctx, a)
		}

		result := e.evaluateControl(ctx, client, a.ID, control)
		if err := e.store.Results().Upsert(ctx, &result); err != nil {
			return e.fail(ctx, a, fmt.Errorf("persist result %s: %w", control.ID, err))
		}
		results = append(results, result)
		totals.Add(result.Status)

		progress := (i+1)*90/len(controls) + 5
		if err := e.store.Assessments().SetProgress(ctx, a.ID, progress); err != nil {
			return e.fail(ctx, a, err)
		}
		a.Progress = progress
		e.progress(ctx, a.ID, progress)
	}

	completedAt := e.now()
	a.Totals = totals
	a.OverallScore, a.WeightedScore = Score(controlsByID(controls), results)
	a.CompletedAt = &completedAt
	a.DurationSeconds = completedAt.Sub(startedAt).Seconds()
	if err := e.store.Assessments().Complete(ctx, &a); err != nil {
		return e.fail(ctx, a, err)
	}
	a.Status = model.AssessmentCompleted
	a.Progress = 100
	e.progress(ctx, a.ID, 100)
	metrics.AssessmentsFinished.WithLabelValues(string(model.AssessmentCompleted)).Inc()

	logger.Info().
		Int("total", totals.Total).
		Int("compliant", totals.Compliant).
		Float64("overallScore", a.OverallScore).
		Float64("weightedScore", a.WeightedScore).
		Msg("assessment completed")
	return a, nil
}

// adopt loads or creates the assessment row for the request.
func (e *Engine) adopt(ctx context.Context, req RunRequest) (model.Assessment, error) {
	if req.AssessmentID != uuid.Nil {
		return e.store.Assessments().Get(ctx, req.AssessmentID)
	}
	if !req.Benchmark.Valid() {
		return model.Assessment{}, fmt.Errorf("unknown benchmark kind %q", req.Benchmark)
	}
	a := model.Assessment{
		TenantID:    req.TenantID,
		Benchmark:   req.Benchmark,
		Name:        req.Name,
		TriggeredBy: req.TriggeredBy,
		Status:      model.AssessmentPending,
		Parameters:  req.Parameters,
	}
	if a.Name == "" {
		a.Name = fmt.Sprintf("%s assessment - %s", req.Benchmark, e.now().Format(time.RFC3339))
	}
	if a.TriggeredBy == "" {
		a.TriggeredBy = "api"
	}
	if err := e.store.Assessments().Create(ctx, &a); err != nil {
		return model.Assessment{}, err
	}
	log.Ctx(ctx).Info().Str("assessmentId", a.ID.String()).Msg("assessment created")
	return a, nil
}

// evaluateControl runs one checker, converting panics and errors into an
// error result so a misbehaving checker never aborts the run.
func (e *Engine) evaluateControl(ctx context.Context, client graph.Caller, assessmentID uuid.UUID, control model.ControlDefinition) (result model.ControlResult) {
	result = model.ControlResult{
		AssessmentID: assessmentID,
		ControlID:    control.ID,
		CheckedAt:    e.now(),
	}

	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Error().
				Str("controlId", control.ID).
				Interface("panic", r).
				Msg("checker panicked")
			result.Status = model.ControlError
			result.Score = 0
			result.ErrorMessage = fmt.Sprintf("checker panic: %v", r)
		}
	}()

	var outcome checkers.Outcome
	checker, ok := e.registry.Lookup(control.CheckerKey)
	if control.CheckerKey == "" || !ok {
		outcome = checkers.ManualReview("")
	} else {
		var err error
		outcome, err = checker.Evaluate(ctx, client, control)
		if err != nil {
			log.Ctx(ctx).Warn().Str("controlId", control.ID).Err(err).Msg("checker failed")
			outcome = checkers.Outcome{
				Status:       model.ControlError,
				ErrorMessage: err.Error(),
			}
		}
	}

	result.Status = outcome.Status
	result.Score = outcome.Score
	result.ActualResult = outcome.ActualResult
	result.Evidence = model.BoundEvidence(outcome.Evidence)
	result.RemediationGuidance = outcome.RemediationGuidance
	result.ErrorMessage = outcome.ErrorMessage
	if result.RemediationGuidance == "" && result.Status == model.ControlNonCompliant {
		result.RemediationGuidance = control.Remediation
	}
	return result
}

func (e *Engine) fail(ctx context.Context, a model.Assessment, cause error) (model.Assessment, error) {
	log.Ctx(ctx).Error().Str("assessmentId", a.ID.String()).Err(cause).Msg("assessment failed")
	completedAt := e.now()
	if err := e.store.Assessments().Fail(ctx, a.ID, cause.Error(), completedAt); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("could not mark assessment failed")
	}
	a.Status = model.AssessmentFailed
	a.ErrorMessage = cause.Error()
	a.CompletedAt = &completedAt
	metrics.AssessmentsFinished.WithLabelValues(string(model.AssessmentFailed)).Inc()
	return a, cause
}

// cancel finalizes a run interrupted by cancellation, retaining the results
// persisted so far.
func (e *Engine) cancel(ctx context.Context, a model.Assessment) (model.Assessment, error) {
	completedAt := e.now()
	// The run context is cancelled; finalize with a fresh one.
	finalize := context.WithoutCancel(ctx)
	if err := e.store.Assessments().Cancel(finalize, a.ID, completedAt); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("could not mark assessment cancelled")
	}
	a.Status = model.AssessmentCancelled
	a.CompletedAt = &completedAt
	metrics.AssessmentsFinished.WithLabelValues(string(model.AssessmentCancelled)).Inc()
	log.Ctx(ctx).Info().Str("assessmentId", a.ID.String()).Msg("assessment cancelled")
	return a, nil
}

func controlsByID(controls []model.ControlDefinition) map[string]model.ControlDefinition {
	byID := make(map[string]model.ControlDefinition, len(controls))
	for _, c := range controls {
		byID[c.ID] = c
	}
	return byID
}
