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

type pgAssessments PG

const assessmentColumns = `
	id, tenant_id, benchmark, name, triggered_by, status, progress,
	total, compliant, non_compliant, manual_review, not_applicable, error_count,
	overall_score, weighted_score, started_at, completed_at, duration_seconds,
	error_message, parameters, created_at`

func scanAssessment(row pgx.Row) (model.Assessment, error) {
	var a model.Assessment
	var params []byte
	var errMsg *string
	err := row.Scan(
		&a.ID, &a.TenantID, &a.Benchmark, &a.Name, &a.TriggeredBy, &a.Status, &a.Progress,
		&a.Totals.Total, &a.Totals.Compliant, &a.Totals.NonCompliant, &a.Totals.ManualReview,
		&a.Totals.NotApplicable, &a.Totals.Error,
		&a.OverallScore, &a.WeightedScore, &a.StartedAt, &a.CompletedAt, &a.DurationSeconds,
		&errMsg, &params, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Assessment{}, ErrNotFound
	}
	if err != nil {
		return model.Assessment{}, err
	}
	if errMsg != nil {
		a.ErrorMessage = *errMsg
	}
	a.Parameters = unmarshalParams(params)
	return a, nil
}

func (p *pgAssessments) Create(ctx context.Context, a *model.Assessment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = model.AssessmentPending
	}
	params, err := marshalParams(a.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	return p.pool.QueryRow(ctx, `
		INSERT INTO maes.assessment (id, tenant_id, benchmark, name, triggered_by, status, progress, parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, a.ID, a.TenantID, a.Benchmark, a.Name, a.TriggeredBy, a.Status, a.Progress, params).Scan(&a.CreatedAt)
}

func (p *pgAssessments) Get(ctx context.Context, id uuid.UUID) (model.Assessment, error) {
	return scanAssessment(p.pool.QueryRow(ctx,
		`SELECT `+assessmentColumns+` FROM maes.assessment WHERE id = $1`, id))
}

func (p *pgAssessments) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.Assessment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+assessmentColumns+` FROM maes.assessment
		 WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *pgAssessments) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE maes.assessment
		SET status = 'running', started_at = $2, progress = GREATEST(progress, 5)
		WHERE id = $1 AND status = 'pending'
	`, id, startedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assessment %s not pending: %w", id, ErrConflict)
	}
	return nil
}

func (p *pgAssessments) SetProgress(ctx context.Context, id uuid.UUID, progress int) error {
	// Monotonic: concurrent readers never observe a decreasing value.
	_, err := p.pool.Exec(ctx, `
		UPDATE maes.assessment SET progress = $2
		WHERE id = $1 AND status = 'running' AND progress < $2
	`, id, progress)
	return err
}

func (p *pgAssessments) SetParameters(ctx context.Context, id uuid.UUID, params map[string]any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	_, err = p.pool.Exec(ctx, `UPDATE maes.assessment SET parameters = $2 WHERE id = $1`, id, raw)
	return err
}

func (p *pgAssessments) Complete(ctx context.Context, a *model.Assessment) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE maes.assessment
		SET status = 'completed', progress = 100,
		    total = $2, compliant = $3, non_compliant = $4, manual_review = $5,
		    not_applicable = $6, error_count = $7,
		    overall_score = $8, weighted_score = $9,
		    completed_at = $10, duration_seconds = $11
		WHERE id = $1 AND status = 'running'
	`, a.ID,
		a.Totals.Total, a.Totals.Compliant, a.Totals.NonCompliant, a.Totals.ManualReview,
		a.Totals.NotApplicable, a.Totals.Error,
		a.OverallScore, a.WeightedScore, a.CompletedAt, a.DurationSeconds)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assessment %s not running: %w", a.ID, ErrConflict)
	}
	return nil
}

func (p *pgAssessments) Fail(ctx context.Context, id uuid.UUID, msg string, completedAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE maes.assessment
		SET status = 'failed', error_message = $2, completed_at = $3,
		    duration_seconds = COALESCE(EXTRACT(EPOCH FROM ($3 - started_at)), 0)
		WHERE id = $1 AND status IN ('pending', 'running')
	`, id, msg, completedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assessment %s already terminal: %w", id, ErrConflict)
	}
	return nil
}

func (p *pgAssessments) Cancel(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE maes.assessment
		SET status = 'cancelled', completed_at = $2,
		    duration_seconds = COALESCE(EXTRACT(EPOCH FROM ($2 - started_at)), 0)
		WHERE id = $1 AND status IN ('pending', 'running')
	`, id, completedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assessment %s already terminal: %w", id, ErrConflict)
	}
	return nil
}

type pgResults PG

func (p *pgResults) Upsert(ctx context.Context, r *model.ControlResult) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO maes.control_result
			(id, assessment_id, control_id, status, score, actual_result, evidence,
			 remediation_guidance, error_message, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (assessment_id, control_id) DO UPDATE SET
			status = EXCLUDED.status,
			score = EXCLUDED.score,
			actual_result = EXCLUDED.actual_result,
			evidence = EXCLUDED.evidence,
			remediation_guidance = EXCLUDED.remediation_guidance,
			error_message = EXCLUDED.error_message,
			checked_at = EXCLUDED.checked_at
	`, r.ID, r.AssessmentID, r.ControlID, r.Status, r.Score,
		nilIfEmpty(r.ActualResult), nilIfEmpty(r.Evidence),
		r.RemediationGuidance, r.ErrorMessage, r.CheckedAt)
	return err
}

func nilIfEmpty(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func (p *pgResults) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.ControlResult, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, assessment_id, control_id, status, score, actual_result, evidence,
		       COALESCE(remediation_guidance, ''), COALESCE(error_message, ''), checked_at
		FROM maes.control_result WHERE assessment_id = $1 ORDER BY control_id
	`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ControlResult
	for rows.Next() {
		var r model.ControlResult
		if err := rows.Scan(&r.ID, &r.AssessmentID, &r.ControlID, &r.Status, &r.Score,
			&r.ActualResult, &r.Evidence, &r.RemediationGuidance, &r.ErrorMessage, &r.CheckedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
