package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maes-platform/compliance-core/internal/model"
)

type pgSchedules PG

const scheduleColumns = `
	id, tenant_id, name, benchmark, frequency, active,
	next_run_at, last_run_at, last_assessment_id, parameters, created_by, created_at`

func scanSchedule(row pgx.Row) (model.Schedule, error) {
	var s model.Schedule
	var params []byte
	var createdBy *string
	err := row.Scan(&s.ID, &s.TenantID, &s.Name, &s.Benchmark, &s.Frequency, &s.Active,
		&s.NextRunAt, &s.LastRunAt, &s.LastAssessmentID, &params, &createdBy, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Schedule{}, ErrNotFound
	}
	if err != nil {
		return model.Schedule{}, err
	}
	if createdBy != nil {
		s.CreatedBy = *createdBy
	}
	s.Parameters = unmarshalParams(params)
	return s, nil
}

func (p *pgSchedules) Create(ctx context.Context, s *model.Schedule) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	params, err := marshalParams(s.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	err = p.pool.QueryRow(ctx, `
		INSERT INTO maes.schedule
			(id, tenant_id, name, benchmark, frequency, active, next_run_at, parameters, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, s.ID, s.TenantID, s.Name, s.Benchmark, s.Frequency, s.Active, s.NextRunAt, params, s.CreatedBy).
		Scan(&s.CreatedAt)
	if uniqueViolation(err) {
		return fmt.Errorf("schedule %q for tenant %s: %w", s.Name, s.TenantID, ErrConflict)
	}
	return err
}

func (p *pgSchedules) Update(ctx context.Context, s *model.Schedule) error {
	params, err := marshalParams(s.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE maes.schedule
		SET name = $2, benchmark = $3, frequency = $4, active = $5,
		    next_run_at = $6, parameters = $7
		WHERE id = $1
	`, s.ID, s.Name, s.Benchmark, s.Frequency, s.Active, s.NextRunAt, params)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *pgSchedules) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM maes.schedule WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *pgSchedules) Get(ctx context.Context, id uuid.UUID) (model.Schedule, error) {
	return scanSchedule(p.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM maes.schedule WHERE id = $1`, id))
}

func (p *pgSchedules) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]model.Schedule, error) {
	return p.list(ctx, `SELECT `+scheduleColumns+` FROM maes.schedule WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
}

func (p *pgSchedules) ListActive(ctx context.Context) ([]model.Schedule, error) {
	return p.list(ctx, `SELECT `+scheduleColumns+` FROM maes.schedule WHERE active ORDER BY next_run_at`)
}

func (p *pgSchedules) ListDue(ctx context.Context, now time.Time) ([]model.Schedule, error) {
	return p.list(ctx, `SELECT `+scheduleColumns+` FROM maes.schedule WHERE active AND next_run_at <= $1 ORDER BY next_run_at`, now)
}

func (p *pgSchedules) list(ctx context.Context, sql string, args ...any) ([]model.Schedule, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *pgSchedules) Advance(ctx context.Context, id uuid.UUID, lastRunAt, nextRunAt time.Time, lastAssessmentID uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE maes.schedule
		SET last_run_at = $2, next_run_at = $3, last_assessment_id = $4
		WHERE id = $1
	`, id, lastRunAt, nextRunAt, lastAssessmentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type pgReports PG

func (p *pgReports) Create(ctx context.Context, r *model.Report) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return p.pool.QueryRow(ctx, `
		INSERT INTO maes.report
			(id, assessment_id, format, kind, file_name, artifact_path, size_bytes, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, r.ID, r.AssessmentID, r.Format, r.Kind, r.FileName, r.ArtifactPath, r.SizeBytes, r.Note).
		Scan(&r.CreatedAt)
}

func (p *pgReports) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.Report, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, assessment_id, format, kind, file_name, artifact_path, size_bytes, COALESCE(note, ''), created_at
		FROM maes.report WHERE assessment_id = $1 ORDER BY created_at DESC
	`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Report
	for rows.Next() {
		var r model.Report
		if err := rows.Scan(&r.ID, &r.AssessmentID, &r.Format, &r.Kind, &r.FileName,
			&r.ArtifactPath, &r.SizeBytes, &r.Note, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *pgReports) GetByFileName(ctx context.Context, assessmentID uuid.UUID, fileName string) (model.Report, error) {
	var r model.Report
	err := p.pool.QueryRow(ctx, `
		SELECT id, assessment_id, format, kind, file_name, artifact_path, size_bytes, COALESCE(note, ''), created_at
		FROM maes.report WHERE assessment_id = $1 AND file_name = $2
	`, assessmentID, fileName).Scan(&r.ID, &r.AssessmentID, &r.Format, &r.Kind, &r.FileName,
		&r.ArtifactPath, &r.SizeBytes, &r.Note, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Report{}, ErrNotFound
	}
	return r, err
}

func (p *pgReports) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM maes.report WHERE id = $1`, id)
	return err
}
