package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maes-platform/compliance-core/internal/model"
)

// PG is the Postgres-backed store. All entities live in the maes schema.
type PG struct {
	pool *pgxpool.Pool
}

// NewPG wraps a connection pool.
func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool}
}

func (p *PG) Tenants() TenantStore         { return (*pgTenants)(p) }
func (p *PG) Assessments() AssessmentStore { return (*pgAssessments)(p) }
func (p *PG) Results() ResultStore         { return (*pgResults)(p) }
func (p *PG) Schedules() ScheduleStore     { return (*pgSchedules)(p) }
func (p *PG) Reports() ReportStore         { return (*pgReports)(p) }

// uniqueViolation reports whether err is a Postgres unique-constraint error.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func marshalParams(params map[string]any) ([]byte, error) {
	if params == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(params)
}

func unmarshalParams(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

type pgTenants PG

func (p *pgTenants) Create(ctx context.Context, t *model.Tenant) error {
	creds, err := json.Marshal(t.Credentials)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err = p.pool.QueryRow(ctx, `
		INSERT INTO maes.tenant (id, display_name, directory_tenant_id, domain_fqdn, credentials, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, t.ID, t.DisplayName, t.DirectoryTenantID, t.DomainFQDN, creds, t.Active).Scan(&t.CreatedAt)
	if uniqueViolation(err) {
		return fmt.Errorf("tenant %s: %w", t.DirectoryTenantID, ErrConflict)
	}
	return err
}

func (p *pgTenants) Get(ctx context.Context, id uuid.UUID) (model.Tenant, error) {
	var t model.Tenant
	var creds []byte
	err := p.pool.QueryRow(ctx, `
		SELECT id, display_name, directory_tenant_id, domain_fqdn, credentials, active, created_at
		FROM maes.tenant WHERE id = $1
	`, id).Scan(&t.ID, &t.DisplayName, &t.DirectoryTenantID, &t.DomainFQDN, &creds, &t.Active, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Tenant{}, ErrNotFound
	}
	if err != nil {
		return model.Tenant{}, err
	}
	if err := json.Unmarshal(creds, &t.Credentials); err != nil {
		return model.Tenant{}, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return t, nil
}

func (p *pgTenants) List(ctx context.Context) ([]model.Tenant, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, display_name, directory_tenant_id, domain_fqdn, credentials, active, created_at
		FROM maes.tenant ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Tenant
	for rows.Next() {
		var t model.Tenant
		var creds []byte
		if err := rows.Scan(&t.ID, &t.DisplayName, &t.DirectoryTenantID, &t.DomainFQDN, &creds, &t.Active, &t.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(creds, &t.Credentials); err != nil {
			return nil, fmt.Errorf("unmarshal credentials: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
