package usecases

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
	"talk2chat/internal/logging"
)

// SessionMatcher finds the open conversation of an external identity or
// starts one.
type SessionMatcher struct {
	sessions interfaces.SessionRepository
	locker   interfaces.Locker
	now      func() time.Time
}

func NewSessionMatcher(sessions interfaces.SessionRepository, locker interfaces.Locker) *SessionMatcher {
	return &SessionMatcher{sessions: sessions, locker: locker, now: time.Now}
}

// FindOrCreate returns the non-terminal session for key, creating an
// active one when none exists. Callers for the same key are serialized, and
// the repository rejects a second open session, so concurrent first
// contacts converge on one row.
func (m *SessionMatcher) FindOrCreate(ctx context.Context, key entities.SessionKey, displayName string, metadata map[string]any) (*entities.ChatSession, bool, error) {
	if key.ExternalID == "" {
		return nil, false, fmt.Errorf("find session: %w", &entities.PayloadError{Channel: key.Channel, Fields: []string{"external_id"}, Reason: "missing sender"})
	}

	unlock, err := m.locker.Lock(ctx, key.String())
	if err != nil {
		return nil, false, fmt.Errorf("lock session %s: %w", key, err)
	}
	defer unlock()

	existing, err := m.sessions.FindOpen(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("find session: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	now := m.now()
	sess := &entities.ChatSession{
		ID:           uuid.NewString(),
		TenantID:     key.TenantID,
		ExternalID:   key.ExternalID,
		Channel:      key.Channel,
		VisitorName:  displayName,
		Status:       entities.StatusActive,
		Tags:         []string{},
		Metadata:     metadata,
		CreatedAt:    now,
		LastActivity: now,
	}
	if sess.VisitorName == "" {
		sess.VisitorName = defaultVisitorName(key.Channel)
	}

	created, err := m.sessions.Create(ctx, sess)
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	if created {
		logging.Info().Str("session_id", sess.ID).Str("channel", string(key.Channel)).Msg("session created")
	}
	return sess, created, nil
}

func (m *SessionMatcher) Touch(ctx context.Context, sessionID string) error {
	return m.sessions.Touch(ctx, sessionID, m.now())
}

func defaultVisitorName(ch entities.Channel) string {
	switch ch {
	case entities.ChannelWhatsApp:
		return "WhatsApp User"
	case entities.ChannelInstagram:
		return "Instagram User"
	case entities.ChannelFacebook:
		return "Facebook User"
	case entities.ChannelEmail:
		return "Email User"
	case entities.ChannelTelegram:
		return "Telegram User"
	}
	return "Visitor"
}
