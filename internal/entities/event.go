package entities

import "time"

type EventType string

const (
	EventSessionInsert EventType = "session_insert"
	EventSessionUpdate EventType = "session_update"
	EventMessageInsert EventType = "message_insert"
	EventPresence      EventType = "presence"
)

// Event is a change notification fanned out to inbox viewers. TenantID is
// the tenant the underlying session belongs to; nil means the global inbox.
type Event struct {
	Type      EventType `json:"type"`
	ID        string    `json:"id"`
	TenantID  *string   `json:"tenant_id"`
	Data      any       `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

func SessionEvent(t EventType, s *ChatSession) Event {
	return Event{Type: t, ID: s.ID, TenantID: s.TenantID, Data: s, CreatedAt: time.Now()}
}

func MessageEvent(s *ChatSession, m *ChatMessage) Event {
	return Event{Type: EventMessageInsert, ID: m.ID, TenantID: s.TenantID, Data: m, CreatedAt: time.Now()}
}

func PresenceEvent(p *PresenceEntry) Event {
	return Event{Type: EventPresence, ID: p.UserID, TenantID: p.TenantID, Data: p, CreatedAt: time.Now()}
}
