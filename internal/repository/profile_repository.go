package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"talk2chat/internal/entities"
)

type ProfileRepository struct {
	db *pgxpool.Pool
}

func NewProfileRepository(db *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) Upsert(ctx context.Context, p *entities.Profile) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO profiles (user_id, tenant_id, role, display_name) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id, role = EXCLUDED.role,
			display_name = EXCLUDED.display_name
	`, p.UserID, p.TenantID, p.Role, p.DisplayName)
	return err
}

func (r *ProfileRepository) GetProfile(ctx context.Context, userID string) (*entities.Profile, error) {
	var p entities.Profile
	err := r.db.QueryRow(ctx,
		"SELECT user_id, tenant_id, role, display_name FROM profiles WHERE user_id = $1",
		userID).Scan(&p.UserID, &p.TenantID, &p.Role, &p.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entities.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
