package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
	"talk2chat/internal/logging"
	"talk2chat/internal/metrics"
)

const (
	HistoryLimit = 10
	RAGTopK      = 3
	RAGMinScore  = 0.7
	AISenderName = "AI Assistant"
)

// Throttle limits how often one key may act.
type Throttle interface {
	Allow(key string) bool
}

// AutoResponder decides whether an inbound message gets an AI reply and
// writes that reply.
type AutoResponder struct {
	ai       *AIService
	messages interfaces.MessageRepository
	usage    interfaces.UsageRepository
	dir      interfaces.TenantDirectory
	kb       interfaces.KnowledgeBase
	embedder interfaces.Embedder
	throttle Throttle
	now      func() time.Time
}

type AutoResponderDeps struct {
	AI        *AIService
	Messages  interfaces.MessageRepository
	Usage     interfaces.UsageRepository
	Directory interfaces.TenantDirectory
	// Knowledge and Embedder are optional; without them replies skip retrieval.
	Knowledge interfaces.KnowledgeBase
	Embedder  interfaces.Embedder
	Throttle  Throttle
}

func NewAutoResponder(d AutoResponderDeps) *AutoResponder {
	return &AutoResponder{
		ai:       d.AI,
		messages: d.Messages,
		usage:    d.Usage,
		dir:      d.Directory,
		kb:       d.Knowledge,
		embedder: d.Embedder,
		throttle: d.Throttle,
		now:      time.Now,
	}
}

// Respond stores and returns the AI reply to inbound. The skip reasons
// (assigned agent, disabled, exhausted, throttled, no key) come back as
// their sentinel errors with a nil message.
func (a *AutoResponder) Respond(ctx context.Context, sess *entities.ChatSession, cfg *entities.WidgetConfig, inbound *entities.ChatMessage) (*entities.ChatMessage, error) {
	provider := cfg.AI.Provider
	if provider == "" {
		provider = a.ai.defaultProvider
	}

	if err := a.gate(ctx, sess, cfg); err != nil {
		metrics.AIReplies.WithLabelValues(provider, outcomeOf(err)).Inc()
		return nil, err
	}

	history, err := a.history(ctx, sess.ID, inbound.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	instructions := cfg.AI.Instructions
	var chunks []entities.KnowledgeChunk
	if cfg.AI.KnowledgeBase {
		chunks = a.retrieve(ctx, sess.TenantID, cfg.AI, inbound.Content)
		instructions = withContext(instructions, chunks)
	}

	reply, err := a.ai.CompleteWith(ctx, entities.CompletionRequest{
		Message:      inbound.Content,
		History:      history,
		Instructions: instructions,
		Provider:     provider,
		Model:        cfg.AI.Model,
		TenantID:     sess.TenantID,
	}, cfg.AI)
	if err != nil {
		metrics.AIReplies.WithLabelValues(provider, outcomeOf(err)).Inc()
		return nil, err
	}
	if strings.TrimSpace(reply) == "" {
		metrics.AIReplies.WithLabelValues(provider, "empty").Inc()
		return nil, nil
	}

	msg := &entities.ChatMessage{
		ID:         uuid.NewString(),
		SessionID:  sess.ID,
		Content:    reply,
		SenderType: entities.SenderAI,
		SenderName: AISenderName,
		Metadata:   map[string]any{"provider": provider},
		CreatedAt:  a.now(),
	}
	if len(chunks) > 0 {
		ids := make([]string, len(chunks))
		for i, c := range chunks {
			ids[i] = c.ID
		}
		msg.Metadata[entities.MetaRAGChunks] = ids
	}
	if err := a.messages.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("store ai reply: %w", err)
	}
	if sess.TenantID != nil {
		if err := a.usage.RecordAIReply(ctx, *sess.TenantID); err != nil {
			logging.Warn().Err(err).Str("tenant_id", *sess.TenantID).Msg("record ai usage")
		}
	}
	metrics.AIReplies.WithLabelValues(provider, "replied").Inc()
	return msg, nil
}

func (a *AutoResponder) gate(ctx context.Context, sess *entities.ChatSession, cfg *entities.WidgetConfig) error {
	if sess.AssignedTo != nil {
		return entities.ErrAgentAssigned
	}
	if sess.Status.Terminal() || !cfg.AI.AutoReplyEnabled() {
		return entities.ErrAIDisabled
	}

	if sess.TenantID != nil {
		tenant, err := a.dir.GetTenant(ctx, *sess.TenantID)
		if err != nil {
			return fmt.Errorf("load tenant: %w", err)
		}
		if !tenant.Active() {
			return entities.ErrAIDisabled
		}
		if tenant.CreditsExhausted() {
			return entities.ErrUsageExhausted
		}
		if tenant.AIUsageLimit > 0 {
			used, err := a.usage.MonthAIReplies(ctx, tenant.ID)
			if err != nil {
				return fmt.Errorf("load ai usage: %w", err)
			}
			if tenant.OverUsageLimit(used) {
				return entities.ErrUsageExhausted
			}
		}
	}

	if a.throttle != nil && !a.throttle.Allow(sess.ID) {
		return entities.ErrThrottled
	}
	return nil
}

// history returns up to HistoryLimit earlier turns, oldest first, without
// the message being answered.
func (a *AutoResponder) history(ctx context.Context, sessionID, inboundID string) ([]entities.PromptMessage, error) {
	recent, err := a.messages.Recent(ctx, sessionID, HistoryLimit+1)
	if err != nil {
		return nil, err
	}
	turns := make([]entities.PromptMessage, 0, len(recent))
	for _, m := range recent {
		if m.ID == inboundID {
			continue
		}
		switch m.SenderType {
		case entities.SenderVisitor:
			turns = append(turns, entities.PromptMessage{Role: "user", Content: m.Content})
		case entities.SenderAgent, entities.SenderAI:
			turns = append(turns, entities.PromptMessage{Role: "assistant", Content: m.Content})
		}
	}
	if len(turns) > HistoryLimit {
		turns = turns[len(turns)-HistoryLimit:]
	}
	return turns, nil
}

// retrieve never fails the reply; errors are logged and yield no context.
func (a *AutoResponder) retrieve(ctx context.Context, tenantID *string, settings entities.AISettings, query string) []entities.KnowledgeChunk {
	if a.kb == nil || a.embedder == nil {
		return nil
	}
	key, err := a.ai.EmbeddingKey(settings)
	if err != nil {
		logging.Debug().Err(err).Msg("skip knowledge retrieval")
		return nil
	}
	vector, err := a.embedder.Embed(ctx, key, query)
	if err != nil {
		logging.Warn().Err(err).Msg("embed query for knowledge retrieval")
		return nil
	}
	chunks, err := a.kb.Search(ctx, tenantID, vector, RAGTopK, RAGMinScore)
	if err != nil {
		logging.Warn().Err(err).Msg("knowledge base search")
		return nil
	}
	return chunks
}

func withContext(instructions string, chunks []entities.KnowledgeChunk) string {
	if len(chunks) == 0 {
		return instructions
	}
	var b strings.Builder
	b.WriteString("Use the following knowledge base excerpts when they are relevant:\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(c.Content))
	}
	if instructions != "" {
		b.WriteString("\n")
		b.WriteString(instructions)
	}
	return b.String()
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, entities.ErrAgentAssigned):
		return "agent_assigned"
	case errors.Is(err, entities.ErrAIDisabled):
		return "disabled"
	case errors.Is(err, entities.ErrUsageExhausted):
		return "exhausted"
	case errors.Is(err, entities.ErrThrottled):
		return "throttled"
	case errors.Is(err, entities.ErrNoAPIKey):
		return "no_key"
	case errors.Is(err, entities.ErrUnknownProvider):
		return "unknown_provider"
	}
	return "error"
}

// Skipped reports whether err is a gate decision rather than a failure.
func Skipped(err error) bool {
	switch outcomeOf(err) {
	case "agent_assigned", "disabled", "exhausted", "throttled", "no_key":
		return true
	}
	return false
}
