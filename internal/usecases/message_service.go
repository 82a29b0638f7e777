package usecases

import (
	"context"
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
	DefaultHistoryPage = 50
	MaxHistoryPage     = 200
	MaxTags            = 20
)

// MessageService runs inbound events through resolution, matching, storage,
// fanout and auto-reply, and carries the agent-side mutations.
type MessageService struct {
	resolver   *IdentityResolver
	matcher    *SessionMatcher
	sessions   interfaces.SessionRepository
	messages   interfaces.MessageRepository
	responder  *AutoResponder
	dispatcher *OutboundDispatcher
	publisher  interfaces.EventPublisher
	summarizer *Summarizer
	// asyncReplies moves auto-reply and its relay off the webhook request.
	asyncReplies bool
	now          func() time.Time
}

type MessageServiceDeps struct {
	Resolver     *IdentityResolver
	Matcher      *SessionMatcher
	Sessions     interfaces.SessionRepository
	Messages     interfaces.MessageRepository
	Responder    *AutoResponder
	Dispatcher   *OutboundDispatcher
	Publisher    interfaces.EventPublisher
	Summarizer   *Summarizer
	AsyncReplies bool
}

func NewMessageService(d MessageServiceDeps) *MessageService {
	return &MessageService{
		resolver:     d.Resolver,
		matcher:      d.Matcher,
		sessions:     d.Sessions,
		messages:     d.Messages,
		responder:    d.Responder,
		dispatcher:   d.Dispatcher,
		publisher:    d.Publisher,
		summarizer:   d.Summarizer,
		asyncReplies: d.AsyncReplies,
		now:          time.Now,
	}
}

type InboundResult struct {
	Session *entities.ChatSession
	Message *entities.ChatMessage
	Created bool
	// Reply is set only when the reply ran synchronously and produced one.
	Reply *entities.ChatMessage
}

// HandleInbound stores one visitor message and triggers the auto-responder.
// Unknown destinations fail with entities.ErrTenantNotFound and store
// nothing.
func (s *MessageService) HandleInbound(ctx context.Context, evt InboundEvent) (*InboundResult, error) {
	cfg, err := s.resolver.Resolve(ctx, evt.Channel, evt.Destination)
	if err != nil {
		return nil, fmt.Errorf("resolve %s destination %q: %w", evt.Channel, evt.Destination, err)
	}

	key := entities.SessionKey{TenantID: cfg.TenantID, ExternalID: evt.ExternalID, Channel: evt.Channel}
	var sessionMeta map[string]any
	if evt.Channel == entities.ChannelWeb {
		sessionMeta = evt.Metadata
	}
	sess, created, err := s.matcher.FindOrCreate(ctx, key, evt.SenderName, sessionMeta)
	if err != nil {
		return nil, err
	}

	meta := make(map[string]any, len(evt.Metadata)+1)
	for k, v := range evt.Metadata {
		meta[k] = v
	}
	if evt.ProviderMessageID != "" {
		meta[entities.MetaProviderMessageID] = evt.ProviderMessageID
	}
	msg := &entities.ChatMessage{
		ID:         uuid.NewString(),
		SessionID:  sess.ID,
		Content:    evt.Content,
		SenderType: entities.SenderVisitor,
		SenderID:   evt.ExternalID,
		SenderName: sess.VisitorName,
		Metadata:   meta,
		CreatedAt:  s.now(),
	}
	if evt.SenderName != "" {
		msg.SenderName = evt.SenderName
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("store visitor message: %w", err)
	}
	if err := s.matcher.Touch(ctx, sess.ID); err != nil {
		logging.Warn().Err(err).Str("session_id", sess.ID).Msg("touch session")
	}
	sess.LastActivity = msg.CreatedAt

	if created {
		s.publisher.Publish(ctx, entities.SessionEvent(entities.EventSessionInsert, sess))
	} else {
		s.publisher.Publish(ctx, entities.SessionEvent(entities.EventSessionUpdate, sess))
	}
	s.publisher.Publish(ctx, entities.MessageEvent(sess, msg))
	metrics.InboundEvents.WithLabelValues(string(evt.Channel), "routed").Inc()

	res := &InboundResult{Session: sess, Message: msg, Created: created}
	if s.responder == nil {
		return res, nil
	}
	if s.asyncReplies {
		go s.reply(context.WithoutCancel(ctx), sess, cfg, msg)
		return res, nil
	}
	res.Reply = s.reply(ctx, sess, cfg, msg)
	return res, nil
}

// reply never fails the inbound flow.
func (s *MessageService) reply(ctx context.Context, sess *entities.ChatSession, cfg *entities.WidgetConfig, inbound *entities.ChatMessage) *entities.ChatMessage {
	out, err := s.responder.Respond(ctx, sess, cfg, inbound)
	if err != nil {
		if Skipped(err) {
			logging.Debug().Str("session_id", sess.ID).Str("reason", outcomeOf(err)).Msg("auto-reply skipped")
		} else {
			logging.Warn().Err(err).Str("session_id", sess.ID).Msg("auto-reply failed")
		}
		return nil
	}
	if out == nil {
		return nil
	}
	s.publisher.Publish(ctx, entities.MessageEvent(sess, out))
	if _, err := s.dispatcher.Dispatch(ctx, out); err != nil {
		logging.Warn().Err(err).Str("message_id", out.ID).Msg("relay ai reply")
	}
	return out
}

// PostAgentMessage stores an agent reply and relays it. A relay failure is
// returned alongside the stored message.
func (s *MessageService) PostAgentMessage(ctx context.Context, sessionID, agentID, agentName, content string) (*entities.ChatMessage, DispatchResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, DispatchResult{}, entities.ErrNothingToRoute
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, DispatchResult{}, err
	}

	msg := &entities.ChatMessage{
		ID:         uuid.NewString(),
		SessionID:  sess.ID,
		Content:    content,
		SenderType: entities.SenderAgent,
		SenderID:   agentID,
		SenderName: agentName,
		Metadata:   map[string]any{},
		CreatedAt:  s.now(),
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		return nil, DispatchResult{}, fmt.Errorf("store agent message: %w", err)
	}
	if err := s.matcher.Touch(ctx, sess.ID); err != nil {
		logging.Warn().Err(err).Str("session_id", sess.ID).Msg("touch session")
	}
	s.publisher.Publish(ctx, entities.MessageEvent(sess, msg))

	res, err := s.dispatcher.Dispatch(ctx, msg)
	return msg, res, err
}

// DispatchStored relays a message inserted outside this service.
func (s *MessageService) DispatchStored(ctx context.Context, messageID string) (DispatchResult, error) {
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return DispatchResult{}, err
	}
	return s.dispatcher.Dispatch(ctx, msg)
}

func (s *MessageService) SetStatus(ctx context.Context, sessionID string, status entities.SessionStatus) (*entities.ChatSession, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Status.CanTransition(status) {
		return nil, fmt.Errorf("%w: %s -> %s", entities.ErrInvalidTransition, sess.Status, status)
	}
	if err := s.sessions.UpdateStatus(ctx, sessionID, status); err != nil {
		return nil, err
	}
	updated, err := s.publishUpdate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if status == entities.StatusResolved && s.summarizer != nil {
		s.summarizer.SummarizeAsync(updated)
	}
	return updated, nil
}

// Assign hands the session to agentID; nil returns it to the AI.
func (s *MessageService) Assign(ctx context.Context, sessionID string, agentID *string) (*entities.ChatSession, error) {
	if agentID != nil && strings.TrimSpace(*agentID) == "" {
		agentID = nil
	}
	if err := s.sessions.Assign(ctx, sessionID, agentID); err != nil {
		return nil, err
	}
	return s.publishUpdate(ctx, sessionID)
}

func (s *MessageService) Unassign(ctx context.Context, sessionID string) (*entities.ChatSession, error) {
	return s.Assign(ctx, sessionID, nil)
}

func (s *MessageService) SetTags(ctx context.Context, sessionID string, tags []string) (*entities.ChatSession, error) {
	if err := s.sessions.SetTags(ctx, sessionID, NormalizeTags(tags)); err != nil {
		return nil, err
	}
	return s.publishUpdate(ctx, sessionID)
}

// History returns the session's messages ordered by creation time.
func (s *MessageService) History(ctx context.Context, sessionID string, limit int) ([]entities.ChatMessage, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryPage
	}
	if limit > MaxHistoryPage {
		limit = MaxHistoryPage
	}
	return s.messages.Recent(ctx, sessionID, limit)
}

func (s *MessageService) Session(ctx context.Context, sessionID string) (*entities.ChatSession, error) {
	return s.sessions.Get(ctx, sessionID)
}

func (s *MessageService) publishUpdate(ctx context.Context, sessionID string) (*entities.ChatSession, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, entities.SessionEvent(entities.EventSessionUpdate, sess))
	return sess, nil
}

// NormalizeTags trims, lowercases and de-duplicates tags, keeping order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == MaxTags {
			break
		}
	}
	return out
}
