package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
	"talk2chat/internal/logging"
	"talk2chat/internal/metrics"
)

const DefaultRelayAttempts = 3

// Reasons a dispatch did nothing.
const (
	SkipSender      = "sender_not_relayable"
	SkipWeb         = "web_channel"
	SkipAlreadySent = "already_sent"
)

type DispatchResult struct {
	Status            entities.DeliveryStatus `json:"status"`
	ProviderMessageID string                  `json:"provider_message_id,omitempty"`
	Attempts          int                     `json:"attempts"`
	Skipped           string                  `json:"skipped,omitempty"`
}

// OutboundDispatcher relays agent and AI messages to the visitor's channel.
type OutboundDispatcher struct {
	sessions    interfaces.SessionRepository
	messages    interfaces.MessageRepository
	dir         interfaces.TenantDirectory
	relays      map[entities.Channel]interfaces.Relayer
	maxAttempts int
	newBackOff  func() backoff.BackOff
}

func NewOutboundDispatcher(sessions interfaces.SessionRepository, messages interfaces.MessageRepository, dir interfaces.TenantDirectory, maxAttempts int) *OutboundDispatcher {
	if maxAttempts < 1 {
		maxAttempts = DefaultRelayAttempts
	}
	return &OutboundDispatcher{
		sessions:    sessions,
		messages:    messages,
		dir:         dir,
		relays:      make(map[entities.Channel]interfaces.Relayer),
		maxAttempts: maxAttempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

// Register routes channel to relay.
func (d *OutboundDispatcher) Register(channel entities.Channel, relay interfaces.Relayer) {
	d.relays[channel] = relay
}

// Dispatch relays msg once. Failures are recorded on the message and
// returned; the stored message itself is never rolled back.
func (d *OutboundDispatcher) Dispatch(ctx context.Context, msg *entities.ChatMessage) (DispatchResult, error) {
	if !msg.SenderType.Relayable() {
		return DispatchResult{Skipped: SkipSender}, nil
	}
	if msg.DeliveryStatus == entities.DeliverySent || msg.ProviderMessageID() != "" {
		return DispatchResult{Status: entities.DeliverySent, ProviderMessageID: msg.ProviderMessageID(), Skipped: SkipAlreadySent}, nil
	}

	sess, err := d.sessions.Get(ctx, msg.SessionID)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("load session: %w", err)
	}
	if sess.Channel == entities.ChannelWeb {
		// Widget visitors receive replies over realtime.
		return DispatchResult{Skipped: SkipWeb}, nil
	}

	relay, ok := d.relays[sess.Channel]
	if !ok {
		return d.fail(ctx, msg, sess.Channel, 0, fmt.Errorf("%w: %s", entities.ErrNoRelay, sess.Channel))
	}
	cfg, err := d.dir.GetConfig(ctx, sess.TenantID)
	if err != nil {
		return d.fail(ctx, msg, sess.Channel, 0, fmt.Errorf("load channel config: %w", err))
	}

	out := entities.OutboundMessage{
		Channel:     sess.Channel,
		To:          sess.ExternalID,
		Text:        msg.Content,
		Credentials: cfg.Credentials(sess.Channel),
	}
	if sess.Channel == entities.ChannelEmail {
		out.Subject = d.lastSubject(ctx, sess.ID)
	}

	d.record(ctx, msg.ID, entities.Delivery{Status: entities.DeliveryPending})

	attempts := 0
	var providerID string
	op := func() error {
		attempts++
		id, err := relay.Send(ctx, out)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		providerID = id
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logging.Warn().Err(err).Str("message_id", msg.ID).Int("attempt", attempts).Dur("retry_in", wait).Msg("relay attempt failed")
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), uint64(d.maxAttempts-1)), ctx)

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return d.fail(ctx, msg, sess.Channel, attempts, err)
	}

	d.record(ctx, msg.ID, entities.Delivery{Status: entities.DeliverySent, ProviderMessageID: providerID, Attempts: attempts})
	metrics.Relays.WithLabelValues(string(sess.Channel), string(entities.DeliverySent)).Inc()
	metrics.RelayAttempts.WithLabelValues(string(sess.Channel)).Observe(float64(attempts))
	logging.Info().Str("message_id", msg.ID).Str("channel", string(sess.Channel)).Int("attempts", attempts).Msg("message relayed")

	return DispatchResult{Status: entities.DeliverySent, ProviderMessageID: providerID, Attempts: attempts}, nil
}

func (d *OutboundDispatcher) fail(ctx context.Context, msg *entities.ChatMessage, ch entities.Channel, attempts int, err error) (DispatchResult, error) {
	d.record(ctx, msg.ID, entities.Delivery{Status: entities.DeliveryFailed, Attempts: attempts, Error: err.Error()})
	metrics.Relays.WithLabelValues(string(ch), string(entities.DeliveryFailed)).Inc()
	logging.Error().Err(err).Str("message_id", msg.ID).Str("channel", string(ch)).Int("attempts", attempts).Msg("relay failed")
	return DispatchResult{Status: entities.DeliveryFailed, Attempts: attempts}, fmt.Errorf("relay %s message %s: %w", ch, msg.ID, err)
}

func (d *OutboundDispatcher) record(ctx context.Context, id string, del entities.Delivery) {
	// Delivery bookkeeping outlives a canceled request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.messages.UpdateDelivery(ctx, id, del); err != nil {
		logging.Warn().Err(err).Str("message_id", id).Str("status", string(del.Status)).Msg("record delivery status")
	}
}

// lastSubject finds the subject of the visitor's latest email.
func (d *OutboundDispatcher) lastSubject(ctx context.Context, sessionID string) string {
	recent, err := d.messages.Recent(ctx, sessionID, HistoryLimit)
	if err != nil {
		return ""
	}
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].SenderType != entities.SenderVisitor {
			continue
		}
		if s, ok := recent[i].Metadata[entities.MetaSubject].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// retryable is false for rejections that will not change on retry.
func retryable(err error) bool {
	var relayErr *entities.RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Retryable()
	}
	switch {
	case errors.Is(err, entities.ErrMissingCredential),
		errors.Is(err, entities.ErrNoRelay),
		errors.Is(err, entities.ErrCircuitOpen),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
