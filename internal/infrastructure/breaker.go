package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
	"talk2chat/internal/logging"
)

type BreakerConfig struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, OpenTimeout: 30 * time.Second, HalfOpenRequests: 1}
}

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker[string] {
	return gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
}

// BreakerRelay guards a relay with one circuit breaker per account, so a
// single tenant with revoked credentials cannot open the circuit for others.
type BreakerRelay struct {
	next     interfaces.Relayer
	cfg      BreakerConfig
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[string]
}

func NewBreakerRelay(next interfaces.Relayer, cfg BreakerConfig) *BreakerRelay {
	return &BreakerRelay{next: next, cfg: cfg, breakers: make(map[string]*gobreaker.CircuitBreaker[string])}
}

func (b *BreakerRelay) breaker(msg entities.OutboundMessage) *gobreaker.CircuitBreaker[string] {
	name := string(msg.Channel) + ":" + msg.Credentials.AccountID
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[name]
	if !ok {
		cb = newBreaker(name, b.cfg)
		b.breakers[name] = cb
	}
	return cb
}

// breakerError tags rejections by an open or saturated breaker with
// entities.ErrCircuitOpen so callers stop retrying.
func breakerError(name string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", name, entities.ErrCircuitOpen)
	}
	return err
}

func (b *BreakerRelay) Send(ctx context.Context, msg entities.OutboundMessage) (string, error) {
	cb := b.breaker(msg)
	id, err := cb.Execute(func() (string, error) {
		return b.next.Send(ctx, msg)
	})
	return id, breakerError(cb.Name(), err)
}

// BreakerProvider guards an AI provider with a single breaker.
type BreakerProvider struct {
	interfaces.ChatProvider
	cb *gobreaker.CircuitBreaker[string]
}

func NewBreakerProvider(p interfaces.ChatProvider, cfg BreakerConfig) *BreakerProvider {
	return &BreakerProvider{ChatProvider: p, cb: newBreaker("ai:"+p.Name(), cfg)}
}

func (b *BreakerProvider) Chat(ctx context.Context, apiKey, model string, messages []entities.PromptMessage) (string, error) {
	out, err := b.cb.Execute(func() (string, error) {
		return b.ChatProvider.Chat(ctx, apiKey, model, messages)
	})
	return out, breakerError(b.cb.Name(), err)
}
