// Package storetest provides an in-memory store.Store used by unit tests.
// It mirrors the Postgres guard semantics (status machine, monotonic
// progress, uniqueness) so engine and API tests exercise the same invariants.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maes-platform/compliance-core/internal/model"
	"github.com/maes-platform/compliance-core/internal/store"
)

// Memory is an in-memory store.Store.
type Memory struct {
	mu          sync.Mutex
	tenants     map[uuid.UUID]model.Tenant
	assessments map[uuid.UUID]model.Assessment
	results     map[uuid.UUID]map[string]model.ControlResult
	schedules   map[uuid.UUID]model.Schedule
	reports     map[uuid.UUID]model.Report
}

// New returns an empty in-memory store.
func New() *Memory {
	return &Memory{
		tenants:     make(map[uuid.UUID]model.Tenant),
		assessments: make(map[uuid.UUID]model.Assessment),
		results:     make(map[uuid.UUID]map[string]model.ControlResult),
		schedules:   make(map[uuid.UUID]model.Schedule),
		reports:     make(map[uuid.UUID]model.Report),
	}
}

func (m *Memory) Tenants() store.TenantStore         { return (*memTenants)(m) }
func (m *Memory) Assessments() store.AssessmentStore { return (*memAssessments)(m) }
func (m *Memory) Results() store.ResultStore         { return (*memResults)(m) }
func (m *Memory) Schedules() store.ScheduleStore     { return (*memSchedules)(m) }
func (m *Memory) Reports() store.ReportStore         { return (*memReports)(m) }

type memTenants Memory

func (m *memTenants) Create(_ context.Context, t *model.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	for _, existing := range m.tenants {
		if existing.Active && t.Active && existing.DirectoryTenantID == t.DirectoryTenantID {
			return fmt.Errorf("tenant %s: %w", t.DirectoryTenantID, store.ErrConflict)
		}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	m.tenants[t.ID] = *t
	return nil
}

func (m *memTenants) Get(_ context.Context, id uuid.UUID) (model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return model.Tenant{}, store.ErrNotFound
	}
	return t, nil
}

func (m *memTenants) List(_ context.Context) ([]model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type memAssessments Memory

func (m *memAssessments) Create(_ context.Context, a *model.Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = model.AssessmentPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.assessments[a.ID] = *a
	return nil
}

func (m *memAssessments) Get(_ context.Context, id uuid.UUID) (model.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assessments[id]
	if !ok {
		return model.Assessment{}, store.ErrNotFound
	}
	return a, nil
}

func (m *memAssessments) ListByTenant(_ context.Context, tenantID uuid.UUID, limit int) ([]model.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Assessment
	for _, a := range m.assessments {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memAssessments) MarkRunning(_ context.Context, id uuid.UUID, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assessments[id]
	if !ok {
		return store.ErrNotFound
	}
	if a.Status != model.AssessmentPending {
		return fmt.Errorf("assessment %s not pending: %w", id, store.ErrConflict)
	}
	a.Status = model.AssessmentRunning
	a.StartedAt = &startedAt
	if a.Progress < 5 {
		a.Progress = 5
	}
	m.assessments[id] = a
	return nil
}

func (m *memAssessments) SetProgress(_ context.Context, id uuid.UUID, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assessments[id]
	if !ok {
		return store.ErrNotFound
	}
	if a.Status == model.AssessmentRunning && progress > a.Progress {
		a.Progress = progress
		m.assessments[id] = a
	}
	return nil
}

func (m *memAssessments) SetParameters(_ context.Context, id uuid.UUID, params map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assessments[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Parameters = params
	m.assessments[id] = a
	return nil
}

func (m *memAssessments) Complete(_ context.Context, updated *model.Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assessments[updated.ID]
	if !ok {
		return store.ErrNotFound
	}
	if a.Status != model.AssessmentRunning {
		return fmt.Errorf("assessment %s not running: %w", updated.ID, store.ErrConflict)
	}
	a.Status = model.AssessmentCompleted
	a.Progress = 100
	a.Totals = updated.Totals
	a.OverallScore = updated.OverallScore
	a.WeightedScore = updated.WeightedScore
	a.CompletedAt = updated.CompletedAt
	a.DurationSeconds = updated.DurationSeconds
	m.assessments[updated.ID] = a
	return nil
}

func (m *memAssessments) Fail(_ context.Context, id uuid.UUID, msg string, completedAt time.Time) error {
	return m.finish(id, model.AssessmentFailed, msg, completedAt)
}

func (m *memAssessments) Cancel(_ context.Context, id uuid.UUID, completedAt time.Time) error {
	return m.finish(id, model.AssessmentCancelled, "", completedAt)
}

func (m *memAssessments) finish(id uuid.UUID, status model.AssessmentStatus, msg string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assessments[id]
	if !ok {
		return store.ErrNotFound
	}
	if a.Status.Terminal() {
		return fmt.Errorf("assessment %s already terminal: %w", id, store.ErrConflict)
	}
	a.Status = status
	a.ErrorMessage = msg
	a.CompletedAt = &completedAt
	if a.StartedAt != nil {
		a.DurationSeconds = completedAt.Sub(*a.StartedAt).Seconds()
	}
	m.assessments[id] = a
	return nil
}

type memResults Memory

func (m *memResults) Upsert(_ context.Context, r *model.ControlResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	byControl, ok := m.results[r.AssessmentID]
	if !ok {
		byControl = make(map[string]model.ControlResult)
		m.results[r.AssessmentID] = byControl
	}
	if existing, ok := byControl[r.ControlID]; ok {
		r.ID = existing.ID
	}
	byControl[r.ControlID] = *r
	return nil
}

func (m *memResults) ListByAssessment(_ context.Context, assessmentID uuid.UUID) ([]model.ControlResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byControl := m.results[assessmentID]
	out := make([]model.ControlResult, 0, len(byControl))
	for _, r := range byControl {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ControlID < out[j].ControlID })
	return out, nil
}

type memSchedules Memory

func (m *memSchedules) Create(_ context.Context, s *model.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	for _, existing := range m.schedules {
		if existing.TenantID == s.TenantID && existing.Name == s.Name {
			return fmt.Errorf("schedule %q for tenant %s: %w", s.Name, s.TenantID, store.ErrConflict)
		}
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.schedules[s.ID] = *s
	return nil
}

func (m *memSchedules) Update(_ context.Context, s *model.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.schedules[s.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.Name = s.Name
	existing.Benchmark = s.Benchmark
	existing.Frequency = s.Frequency
	existing.Active = s.Active
	existing.NextRunAt = s.NextRunAt
	existing.Parameters = s.Parameters
	m.schedules[s.ID] = existing
	return nil
}

func (m *memSchedules) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.schedules, id)
	return nil
}

func (m *memSchedules) Get(_ context.Context, id uuid.UUID) (model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return model.Schedule{}, store.ErrNotFound
	}
	return s, nil
}

func (m *memSchedules) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Schedule
	for _, s := range m.schedules {
		if s.TenantID == tenantID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memSchedules) ListActive(_ context.Context) ([]model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Schedule
	for _, s := range m.schedules {
		if s.Active {
			out = append(out, s)
		}
	}
	sortByNextRun(out)
	return out, nil
}

func (m *memSchedules) ListDue(_ context.Context, now time.Time) ([]model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Schedule
	for _, s := range m.schedules {
		if s.Active && s.NextRunAt != nil && !s.NextRunAt.After(now) {
			out = append(out, s)
		}
	}
	sortByNextRun(out)
	return out, nil
}

func sortByNextRun(schedules []model.Schedule) {
	sort.Slice(schedules, func(i, j int) bool {
		a, b := schedules[i].NextRunAt, schedules[j].NextRunAt
		if a == nil || b == nil {
			return b == nil
		}
		return a.Before(*b)
	})
}

func (m *memSchedules) Advance(_ context.Context, id uuid.UUID, lastRunAt, nextRunAt time.Time, lastAssessmentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return store.ErrNotFound
	}
	s.LastRunAt = &lastRunAt
	s.NextRunAt = &nextRunAt
	s.LastAssessmentID = &lastAssessmentID
	m.schedules[id] = s
	return nil
}

type memReports Memory

func (m *memReports) Create(_ context.Context, r *model.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.reports[r.ID] = *r
	return nil
}

func (m *memReports) ListByAssessment(_ context.Context, assessmentID uuid.UUID) ([]model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Report
	for _, r := range m.reports {
		if r.AssessmentID == assessmentID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memReports) GetByFileName(_ context.Context, assessmentID uuid.UUID, fileName string) (model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reports {
		if r.AssessmentID == assessmentID && r.FileName == fileName {
			return r, nil
		}
	}
	return model.Report{}, store.ErrNotFound
}

func (m *memReports) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reports, id)
	return nil
}

var _ store.Store = (*Memory)(nil)
