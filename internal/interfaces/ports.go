package interfaces

import (
	"context"
	"time"

	"talk2chat/internal/entities"
)

// TenantDirectory answers tenant and widget configuration lookups.
// Lookups that match nothing return entities.ErrTenantNotFound.
type TenantDirectory interface {
	GetTenant(ctx context.Context, id string) (*entities.Tenant, error)
	GetTenantByCompanyEmail(ctx context.Context, email string) (*entities.Tenant, error)
	// GetConfig returns the tenant's widget config; a nil tenantID selects the global record.
	GetConfig(ctx context.Context, tenantID *string) (*entities.WidgetConfig, error)
	// FindConfig matches the channel account id (phone_number_id, page_id,
	// inbound address, telegram webhook key) against stored integrations.
	FindConfig(ctx context.Context, channel entities.Channel, accountID string) (*entities.WidgetConfig, error)
}

type SessionRepository interface {
	// FindOpen returns the non-terminal, non-deleted session for key or nil.
	FindOpen(ctx context.Context, key entities.SessionKey) (*entities.ChatSession, error)
	// Create inserts s. When another open session for the same key already
	// exists, s is overwritten with it and created is false.
	Create(ctx context.Context, s *entities.ChatSession) (created bool, err error)
	Get(ctx context.Context, id string) (*entities.ChatSession, error)
	Touch(ctx context.Context, id string, at time.Time) error
	UpdateStatus(ctx context.Context, id string, status entities.SessionStatus) error
	Assign(ctx context.Context, id string, agentID *string) error
	SetTags(ctx context.Context, id string, tags []string) error
	SetInsights(ctx context.Context, id string, in entities.Insights) error
}

type MessageRepository interface {
	Append(ctx context.Context, m *entities.ChatMessage) error
	Get(ctx context.Context, id string) (*entities.ChatMessage, error)
	// Recent returns up to limit of the newest messages, oldest first.
	Recent(ctx context.Context, sessionID string, limit int) ([]entities.ChatMessage, error)
	UpdateDelivery(ctx context.Context, id string, d entities.Delivery) error
}

type UsageRepository interface {
	MonthAIReplies(ctx context.Context, tenantID string) (int, error)
	// RecordAIReply spends one AI credit and bumps today's counter.
	RecordAIReply(ctx context.Context, tenantID string) error
}

type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*entities.Profile, error)
}

type KnowledgeBase interface {
	Search(ctx context.Context, tenantID *string, vector []float32, limit int, minScore float32) ([]entities.KnowledgeChunk, error)
}

// ChunkWriter stores embedded chunks; both knowledge backends implement it.
type ChunkWriter interface {
	AddChunk(ctx context.Context, id string, tenantID *string, content string, vector []float32) error
}

type Embedder interface {
	Embed(ctx context.Context, apiKey, text string) ([]float32, error)
}

// ChatProvider is one LLM backend.
type ChatProvider interface {
	Name() string
	DefaultModel() string
	Chat(ctx context.Context, apiKey, model string, messages []entities.PromptMessage) (string, error)
}

// Relayer pushes a message to one external channel and returns the id the
// provider assigned to it.
type Relayer interface {
	Send(ctx context.Context, msg entities.OutboundMessage) (string, error)
}

// Locker serializes work on one key across goroutines or instances.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ConfigWriter stores a widget config, replacing the record for the same
// tenant. It assigns cfg.ID when empty.
type ConfigWriter interface {
	SaveConfig(ctx context.Context, cfg *entities.WidgetConfig) error
}

// ConfigCipher seals and opens the secrets held in a widget config.
type ConfigCipher interface {
	SealConfig(cfg *entities.WidgetConfig) error
	OpenConfig(cfg *entities.WidgetConfig) error
}

// EventPublisher fans events out to realtime subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, evt entities.Event)
}
