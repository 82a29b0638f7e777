package entities

import "time"

type SenderType string

const (
	SenderVisitor SenderType = "visitor"
	SenderAgent   SenderType = "agent"
	SenderSystem  SenderType = "system"
	SenderAI      SenderType = "ai"
)

// Relayable reports whether messages from this sender are pushed to the
// visitor's external channel.
func (s SenderType) Relayable() bool {
	return s == SenderAgent || s == SenderAI
}

type DeliveryStatus string

const (
	DeliveryNone    DeliveryStatus = ""
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Metadata keys written on messages.
const (
	MetaProviderMessageID = "provider_message_id"
	MetaAttachments       = "attachments"
	MetaSubject           = "subject"
	MetaRAGChunks         = "rag_chunks"
)

// ChatMessage is append-only. Only Metadata and the delivery fields are
// updated after insert.
type ChatMessage struct {
	ID               string         `json:"id"`
	SessionID        string         `json:"session_id"`
	Content          string         `json:"content"`
	SenderType       SenderType     `json:"sender_type"`
	SenderID         string         `json:"sender_id,omitempty"`
	SenderName       string         `json:"sender_name,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	DeliveryStatus   DeliveryStatus `json:"delivery_status,omitempty"`
	DeliveryAttempts int            `json:"delivery_attempts,omitempty"`
	DeliveryError    string         `json:"delivery_error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ProviderMessageID returns the id the external channel assigned on relay.
func (m *ChatMessage) ProviderMessageID() string {
	if m.Metadata == nil {
		return ""
	}
	id, _ := m.Metadata[MetaProviderMessageID].(string)
	return id
}

// Delivery is the result of one outbound relay, persisted onto the message.
type Delivery struct {
	Status            DeliveryStatus
	ProviderMessageID string
	Attempts          int
	Error             string
}
