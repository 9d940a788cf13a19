package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/maes-platform/compliance-core/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a uniqueness or state-transition invariant
// would be violated.
var ErrConflict = errors.New("conflict")

// Store aggregates the per-entity stores backed by one database.
type Store interface {
	Tenants() TenantStore
	Assessments() AssessmentStore
	Results() ResultStore
	Schedules() ScheduleStore
	Reports() ReportStore
}

// TenantStore reads and writes onboarded tenants. Credential encryption at
// rest is owned by the surrounding tenant service; this store treats the
// credential reference as opaque.
type TenantStore interface {
	Create(ctx context.Context, t *model.Tenant) error
	Get(ctx context.Context, id uuid.UUID) (model.Tenant, error)
	List(ctx context.Context) ([]model.Tenant, error)
}

// AssessmentStore persists assessment rows. Mutations enforce the status
// machine and progress monotonicity at the storage boundary so concurrent
// readers never observe regressions.
type AssessmentStore interface {
	Create(ctx context.Context, a *model.Assessment) error
	Get(ctx context.Context, id uuid.UUID) (model.Assessment, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.Assessment, error)

	// MarkRunning transitions pending -> running and stamps startedAt.
	MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error

	// SetProgress raises progress; lower values are ignored.
	SetProgress(ctx context.Context, id uuid.UUID, progress int) error

	// SetParameters replaces the parameters document.
	SetParameters(ctx context.Context, id uuid.UUID, params map[string]any) error

	// Complete transitions running -> completed and writes totals, scores,
	// completedAt, duration and progress=100.
	Complete(ctx context.Context, a *model.Assessment) error

	// Fail transitions pending/running -> failed with an error message.
	Fail(ctx context.Context, id uuid.UUID, msg string, completedAt time.Time) error

	// Cancel transitions pending/running -> cancelled, retaining progress.
	Cancel(ctx context.Context, id uuid.UUID, completedAt time.Time) error
}

// ResultStore persists per-control results. At most one result exists per
// (assessment, control); retried writes overwrite the earlier row.
type ResultStore interface {
	Upsert(ctx context.Context, r *model.ControlResult) error
	ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.ControlResult, error)
}

// ScheduleStore persists recurring assessment schedules.
type ScheduleStore interface {
	Create(ctx context.Context, s *model.Schedule) error
	Update(ctx context.Context, s *model.Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (model.Schedule, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]model.Schedule, error)
	ListActive(ctx context.Context) ([]model.Schedule, error)

	// ListDue returns active schedules whose nextRunAt is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]model.Schedule, error)

	// Advance moves the schedule pointers after a fire.
	Advance(ctx context.Context, id uuid.UUID, lastRunAt, nextRunAt time.Time, lastAssessmentID uuid.UUID) error
}

// ReportStore catalogs generated report artifacts.
type ReportStore interface {
	Create(ctx context.Context, r *model.Report) error
	ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.Report, error)
	GetByFileName(ctx context.Context, assessmentID uuid.UUID, fileName string) (model.Report, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
