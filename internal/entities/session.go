package entities

import (
	"fmt"
	"time"
)

type Channel string

const (
	ChannelWeb       Channel = "web"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelInstagram Channel = "instagram"
	ChannelFacebook  Channel = "facebook"
	ChannelEmail     Channel = "email"
	ChannelTelegram  Channel = "telegram"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelWeb, ChannelWhatsApp, ChannelInstagram, ChannelFacebook, ChannelEmail, ChannelTelegram:
		return true
	}
	return false
}

type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusOpen      SessionStatus = "open"
	StatusPending   SessionStatus = "pending"
	StatusEscalated SessionStatus = "escalated"
	StatusResolved  SessionStatus = "resolved"
	StatusClosed    SessionStatus = "closed"
)

// Terminal statuses end a conversation. A new inbound message from the same
// identity opens a fresh session instead of reviving one of these.
func (s SessionStatus) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

func (s SessionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusOpen, StatusPending, StatusEscalated, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// CanTransition reports whether an agent may move a session from s to next.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if !next.Valid() || s.Terminal() {
		return false
	}
	return s != next
}

// ChatSession is one conversation between an external identity and a tenant
// (or the global inbox when TenantID is nil).
type ChatSession struct {
	ID                 string         `json:"id"`
	TenantID           *string        `json:"tenant_id"`
	ExternalID         string         `json:"external_id"`
	Channel            Channel        `json:"channel"`
	VisitorName        string         `json:"visitor_name"`
	Status             SessionStatus  `json:"status"`
	AssignedTo         *string        `json:"assigned_to"`
	Tags               []string       `json:"tags"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	Summary            *string        `json:"ai_summary,omitempty"`
	Sentiment          *string        `json:"ai_sentiment,omitempty"`
	ResolutionCategory *string        `json:"ai_resolution_category,omitempty"`
	Deleted            bool           `json:"deleted"`
	CreatedAt          time.Time      `json:"created_at"`
	LastActivity       time.Time      `json:"last_activity"`
}

// SessionKey identifies the open conversation of one external identity.
type SessionKey struct {
	TenantID   *string
	ExternalID string
	Channel    Channel
}

func (k SessionKey) String() string {
	tenant := "global"
	if k.TenantID != nil {
		tenant = *k.TenantID
	}
	return fmt.Sprintf("%s:%s:%s", tenant, k.Channel, k.ExternalID)
}

func (s *ChatSession) Key() SessionKey {
	return SessionKey{TenantID: s.TenantID, ExternalID: s.ExternalID, Channel: s.Channel}
}

// Insights are the AI-derived attributes attached when a session resolves.
type Insights struct {
	Summary            string `json:"summary"`
	Sentiment          string `json:"sentiment"`
	ResolutionCategory string `json:"resolution_category"`
}

// SameTenant compares two nullable tenant references; nil equals nil.
func SameTenant(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
