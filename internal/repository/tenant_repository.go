package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"talk2chat/internal/entities"
)

type TenantRepository struct {
	db *pgxpool.Pool
}

func NewTenantRepository(db *pgxpool.Pool) *TenantRepository {
	return &TenantRepository{db: db}
}

const tenantColumns = `id, name, plan, status, ai_credits, ai_usage_limit, COALESCE(company_email, ''), deleted_at, created_at`

func scanTenant(row pgx.Row) (*entities.Tenant, error) {
	var t entities.Tenant
	var status string
	err := row.Scan(&t.ID, &t.Name, &t.Plan, &status, &t.AICredits, &t.AIUsageLimit, &t.CompanyEmail, &t.DeletedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entities.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Status = entities.TenantStatus(status)
	return &t, nil
}

// Create inserts or refreshes a tenant row.
func (r *TenantRepository) Create(ctx context.Context, t *entities.Tenant) error {
	if t.Status == "" {
		t.Status = entities.TenantActive
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO tenants (id, name, plan, status, ai_credits, ai_usage_limit, company_email)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, plan = EXCLUDED.plan, status = EXCLUDED.status,
			ai_credits = EXCLUDED.ai_credits, ai_usage_limit = EXCLUDED.ai_usage_limit,
			company_email = EXCLUDED.company_email
	`, t.ID, t.Name, t.Plan, string(t.Status), t.AICredits, t.AIUsageLimit, t.CompanyEmail)
	if err != nil {
		return fmt.Errorf("upsert tenant %s: %w", t.ID, err)
	}
	return nil
}

// GetTenant returns live tenants only; soft-deleted ones are not found.
func (r *TenantRepository) GetTenant(ctx context.Context, id string) (*entities.Tenant, error) {
	return scanTenant(r.db.QueryRow(ctx, `
		SELECT `+tenantColumns+` FROM tenants
		WHERE id = $1 AND deleted_at IS NULL AND status <> 'deleted'
	`, id))
}

func (r *TenantRepository) GetTenantByCompanyEmail(ctx context.Context, email string) (*entities.Tenant, error) {
	return scanTenant(r.db.QueryRow(ctx, `
		SELECT `+tenantColumns+` FROM tenants
		WHERE lower(company_email) = $1 AND deleted_at IS NULL AND status <> 'deleted'
		ORDER BY created_at LIMIT 1
	`, strings.ToLower(strings.TrimSpace(email))))
}

// SoftDelete marks a tenant deleted; its rows stay for audit.
func (r *TenantRepository) SoftDelete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE tenants SET status = 'deleted', deleted_at = NOW() WHERE id = $1`, id)
	return err
}
