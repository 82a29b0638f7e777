package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
	"talk2chat/internal/logging"
)

const summaryInstructions = `You review customer support conversations.
Reply with JSON only, no prose, in the form
{"summary": "<two sentences>", "sentiment": "positive|neutral|negative", "resolution_category": "<short label>"}`

const transcriptLimit = 50

// Summarizer attaches AI insights to resolved sessions.
type Summarizer struct {
	ai        *AIService
	sessions  interfaces.SessionRepository
	messages  interfaces.MessageRepository
	publisher interfaces.EventPublisher
	timeout   time.Duration
}

func NewSummarizer(ai *AIService, sessions interfaces.SessionRepository, messages interfaces.MessageRepository, publisher interfaces.EventPublisher) *Summarizer {
	return &Summarizer{ai: ai, sessions: sessions, messages: messages, publisher: publisher, timeout: 90 * time.Second}
}

func (s *Summarizer) Summarize(ctx context.Context, sess *entities.ChatSession) (entities.Insights, error) {
	recent, err := s.messages.Recent(ctx, sess.ID, transcriptLimit)
	if err != nil {
		return entities.Insights{}, fmt.Errorf("load transcript: %w", err)
	}
	if len(recent) == 0 {
		return entities.Insights{}, entities.ErrNothingToRoute
	}

	var b strings.Builder
	for _, m := range recent {
		fmt.Fprintf(&b, "%s: %s\n", m.SenderType, m.Content)
	}
	raw, err := s.ai.Complete(ctx, entities.CompletionRequest{
		Message:      b.String(),
		Instructions: summaryInstructions,
		TenantID:     sess.TenantID,
	})
	if err != nil {
		return entities.Insights{}, err
	}
	in, err := ParseInsights(raw)
	if err != nil {
		return entities.Insights{}, err
	}

	if err := s.sessions.SetInsights(ctx, sess.ID, in); err != nil {
		return entities.Insights{}, fmt.Errorf("store insights: %w", err)
	}
	if updated, err := s.sessions.Get(ctx, sess.ID); err == nil {
		s.publisher.Publish(ctx, entities.SessionEvent(entities.EventSessionUpdate, updated))
	}
	return in, nil
}

// SummarizeAsync runs Summarize detached from the caller; failures are
// only logged.
func (s *Summarizer) SummarizeAsync(sess *entities.ChatSession) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.Summarize(ctx, sess); err != nil {
			logging.Warn().Err(err).Str("session_id", sess.ID).Msg("summarize resolved session")
		}
	}()
}

// ParseInsights reads the model's JSON answer, tolerating code fences and
// surrounding prose.
func ParseInsights(raw string) (entities.Insights, error) {
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return entities.Insights{}, fmt.Errorf("insights: no JSON object in %q", truncate(raw, 80))
	}
	var in entities.Insights
	if err := json.Unmarshal([]byte(raw[start:end+1]), &in); err != nil {
		return entities.Insights{}, fmt.Errorf("insights: %w", err)
	}
	in.Summary = strings.TrimSpace(in.Summary)
	in.ResolutionCategory = strings.ToLower(strings.TrimSpace(in.ResolutionCategory))
	switch s := strings.ToLower(strings.TrimSpace(in.Sentiment)); s {
	case "positive", "neutral", "negative":
		in.Sentiment = s
	default:
		in.Sentiment = "neutral"
	}
	return in, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
