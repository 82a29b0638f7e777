package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
)

type SessionRepository struct {
	db *pgxpool.Pool
}

func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

var _ interfaces.SessionRepository = (*SessionRepository)(nil)

const sessionColumns = `id, tenant_id, external_id, channel, visitor_name, status, assigned_to, tags, metadata,
	ai_summary, ai_sentiment, ai_resolution_category, deleted, created_at, last_activity`

func scanSession(row pgx.Row) (*entities.ChatSession, error) {
	var s entities.ChatSession
	var channel, status string
	err := row.Scan(&s.ID, &s.TenantID, &s.ExternalID, &channel, &s.VisitorName, &status, &s.AssignedTo,
		&s.Tags, &s.Metadata, &s.Summary, &s.Sentiment, &s.ResolutionCategory, &s.Deleted, &s.CreatedAt, &s.LastActivity)
	if err != nil {
		return nil, err
	}
	s.Channel = entities.Channel(channel)
	s.Status = entities.SessionStatus(status)
	return &s, nil
}

func (r *SessionRepository) FindOpen(ctx context.Context, key entities.SessionKey) (*entities.ChatSession, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM global_chat_sessions
		WHERE tenant_id IS NOT DISTINCT FROM $1 AND external_id = $2 AND channel = $3
		  AND status NOT IN ('resolved', 'closed') AND NOT deleted
		ORDER BY created_at DESC LIMIT 1
	`, key.TenantID, key.ExternalID, string(key.Channel)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// Create relies on the partial unique index over open sessions: a racing
// insert for the same identity loses and adopts the winner's row.
func (r *SessionRepository) Create(ctx context.Context, s *entities.ChatSession) (bool, error) {
	if s.Tags == nil {
		s.Tags = []string{}
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	var id string
	err := r.db.QueryRow(ctx, `
		INSERT INTO global_chat_sessions
			(id, tenant_id, external_id, channel, visitor_name, status, tags, metadata, created_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING
		RETURNING id
	`, s.ID, s.TenantID, s.ExternalID, string(s.Channel), s.VisitorName, string(s.Status), s.Tags, s.Metadata,
		s.CreatedAt, s.LastActivity).Scan(&id)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("insert session: %w", err)
	}

	existing, err := r.FindOpen(ctx, s.Key())
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, fmt.Errorf("insert session %s: conflicting row vanished", s.Key())
	}
	*s = *existing
	return false, nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*entities.ChatSession, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM global_chat_sessions WHERE id = $1 AND NOT deleted`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entities.ErrSessionNotFound
	}
	return s, err
}

func (r *SessionRepository) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return entities.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `UPDATE global_chat_sessions SET last_activity = GREATEST(last_activity, $2) WHERE id = $1`, id, at)
}

func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, status entities.SessionStatus) error {
	return r.exec(ctx, `UPDATE global_chat_sessions SET status = $2, last_activity = NOW() WHERE id = $1 AND NOT deleted`, id, string(status))
}

func (r *SessionRepository) Assign(ctx context.Context, id string, agentID *string) error {
	return r.exec(ctx, `UPDATE global_chat_sessions SET assigned_to = $2 WHERE id = $1 AND NOT deleted`, id, agentID)
}

func (r *SessionRepository) SetTags(ctx context.Context, id string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	return r.exec(ctx, `UPDATE global_chat_sessions SET tags = $2 WHERE id = $1 AND NOT deleted`, id, tags)
}

func (r *SessionRepository) SetInsights(ctx context.Context, id string, in entities.Insights) error {
	return r.exec(ctx, `
		UPDATE global_chat_sessions
		SET ai_summary = NULLIF($2, ''), ai_sentiment = NULLIF($3, ''), ai_resolution_category = NULLIF($4, '')
		WHERE id = $1
	`, id, in.Summary, in.Sentiment, in.ResolutionCategory)
}
