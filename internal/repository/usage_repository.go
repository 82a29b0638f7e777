package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"talk2chat/internal/interfaces"
)

// UsageRepository tracks AI replies per tenant per day and the tenant's
// remaining AI credit balance.
type UsageRepository struct {
	db *pgxpool.Pool
}

type DailyUsage struct {
	Date      time.Time `json:"date"`
	AIReplies int       `json:"ai_replies"`
}

func NewUsageRepository(db *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{db: db}
}

var _ interfaces.UsageRepository = (*UsageRepository)(nil)

// RecordAIReply spends a credit and increments today's counter in one transaction.
func (r *UsageRepository) RecordAIReply(ctx context.Context, tenantID string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE tenants SET ai_credits = ai_credits - 1 WHERE id = $1 AND ai_credits > 0`, tenantID); err != nil {
			return fmt.Errorf("spend credit: %w", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO ai_usage (tenant_id, date, ai_replies)
			VALUES ($1, CURRENT_DATE, 1)
			ON CONFLICT (tenant_id, date)
			DO UPDATE SET ai_replies = ai_usage.ai_replies + 1
		`, tenantID)
		if err != nil {
			return fmt.Errorf("count ai reply: %w", err)
		}
		return nil
	})
}

// MonthAIReplies returns this calendar month's AI reply total.
func (r *UsageRepository) MonthAIReplies(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(ai_replies), 0)::int FROM ai_usage
		WHERE tenant_id = $1 AND date >= date_trunc('month', CURRENT_DATE)
	`, tenantID).Scan(&n)
	return n, err
}

// History returns the last N days of AI usage.
func (r *UsageRepository) History(ctx context.Context, tenantID string, days int) ([]DailyUsage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT date, ai_replies FROM ai_usage
		WHERE tenant_id = $1 AND date >= CURRENT_DATE - $2::int
		ORDER BY date ASC
	`, tenantID, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := []DailyUsage{}
	for rows.Next() {
		var u DailyUsage
		if err := rows.Scan(&u.Date, &u.AIReplies); err != nil {
			return nil, err
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}
