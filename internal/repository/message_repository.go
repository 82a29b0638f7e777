package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
)

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

var _ interfaces.MessageRepository = (*MessageRepository)(nil)

const messageColumns = `id, session_id, content, sender_type, sender_id, sender_name, metadata,
	delivery_status, delivery_attempts, delivery_error, created_at`

func scanMessage(row pgx.Row) (*entities.ChatMessage, error) {
	var m entities.ChatMessage
	var sender, delivery string
	err := row.Scan(&m.ID, &m.SessionID, &m.Content, &sender, &m.SenderID, &m.SenderName, &m.Metadata,
		&delivery, &m.DeliveryAttempts, &m.DeliveryError, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.SenderType = entities.SenderType(sender)
	m.DeliveryStatus = entities.DeliveryStatus(delivery)
	return &m, nil
}

func (r *MessageRepository) Append(ctx context.Context, m *entities.ChatMessage) error {
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO global_chat_messages
			(id, session_id, content, sender_type, sender_id, sender_name, metadata, delivery_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, m.ID, m.SessionID, m.Content, string(m.SenderType), m.SenderID, m.SenderName, m.Metadata,
		string(m.DeliveryStatus), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepository) Get(ctx context.Context, id string) (*entities.ChatMessage, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM global_chat_messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entities.ErrMessageNotFound
	}
	return m, err
}

func (r *MessageRepository) Recent(ctx context.Context, sessionID string, limit int) ([]entities.ChatMessage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM global_chat_messages
			WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at ASC
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []entities.ChatMessage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// UpdateDelivery records the relay outcome and merges the provider id into metadata.
func (r *MessageRepository) UpdateDelivery(ctx context.Context, id string, d entities.Delivery) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE global_chat_messages SET
			delivery_status = $2,
			delivery_attempts = $3,
			delivery_error = $4,
			metadata = CASE WHEN $5::text = '' THEN metadata
				ELSE metadata || jsonb_build_object('provider_message_id', $5::text) END
		WHERE id = $1
	`, id, string(d.Status), d.Attempts, d.Error, d.ProviderMessageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return entities.ErrMessageNotFound
	}
	return nil
}
