package usecases

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"

	"talk2chat/internal/entities"
	"talk2chat/internal/infrastructure"
	"talk2chat/internal/logging"
	"talk2chat/internal/repository"
)

func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

func strPtr(s string) *string { return &s }

type chatCall struct {
	apiKey   string
	model    string
	messages []entities.PromptMessage
}

type fakeProvider struct {
	name  string
	reply string
	err   error

	mu    sync.Mutex
	calls []chatCall
}

func (p *fakeProvider) Name() string         { return p.name }
func (p *fakeProvider) DefaultModel() string { return p.name + "-default" }

func (p *fakeProvider) Chat(_ context.Context, apiKey, model string, messages []entities.PromptMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, chatCall{apiKey: apiKey, model: model, messages: messages})
	return p.reply, p.err
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakeProvider) lastCall() chatCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[len(p.calls)-1]
}

type fakeRelay struct {
	mu    sync.Mutex
	sent  []entities.OutboundMessage
	errs  []error // returned in order, then success
	reply string
}

func (r *fakeRelay) Send(_ context.Context, msg entities.OutboundMessage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return "", err
	}
	if r.reply == "" {
		return "provider-1", nil
	}
	return r.reply, nil
}

func (r *fakeRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []entities.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt entities.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) types() []entities.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]entities.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	store      *repository.MemoryStore
	provider   *fakeProvider
	relay      *fakeRelay
	pub        *recordingPublisher
	ai         *AIService
	responder  *AutoResponder
	dispatcher *OutboundDispatcher
	svc        *MessageService
}

// newFixture wires the service over the memory store with one active,
// unmetered tenant "t1" that owns WhatsApp number 1555 and a global config.
// envKeys are the process-wide AI keys.
func newFixture(t *testing.T, envKeys map[string]string) *fixture {
	t.Helper()
	f := &fixture{
		store:    repository.NewMemoryStore(),
		provider: &fakeProvider{name: "openai", reply: "Hello from AI"},
		relay:    &fakeRelay{},
		pub:      &recordingPublisher{},
	}
	f.store.PutTenant(entities.Tenant{ID: "t1", Name: "Acme", Status: entities.TenantActive, AICredits: entities.UnmeteredCredits, CompanyEmail: "hello@acme.test"})
	f.store.PutConfig(entities.WidgetConfig{
		ID:       "cfg-t1",
		TenantID: strPtr("t1"),
		Integrations: entities.Integrations{
			WhatsApp:  entities.WhatsAppIntegration{PhoneNumberID: "1555", APIKey: "wa-token"},
			Instagram: entities.MetaIntegration{PageID: "ig-page", AccessToken: "ig-token"},
			Email:     entities.EmailIntegration{InboundAddress: "support@acme.test", APIKey: "re_key", FromAddress: "support@acme.test"},
		},
	})
	f.store.PutConfig(entities.WidgetConfig{ID: "cfg-global"})

	f.ai = NewAIService("openai", envKeys, f.store, f.provider)
	f.responder = NewAutoResponder(AutoResponderDeps{
		AI:        f.ai,
		Messages:  f.store.Messages(),
		Usage:     f.store,
		Directory: f.store,
	})
	f.dispatcher = NewOutboundDispatcher(f.store, f.store.Messages(), f.store, 3)
	f.dispatcher.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	for _, ch := range []entities.Channel{entities.ChannelWhatsApp, entities.ChannelInstagram, entities.ChannelFacebook, entities.ChannelEmail, entities.ChannelTelegram} {
		f.dispatcher.Register(ch, f.relay)
	}
	f.svc = NewMessageService(MessageServiceDeps{
		Resolver:   NewIdentityResolver(f.store),
		Matcher:    NewSessionMatcher(f.store, infrastructure.NewLocalLocker()),
		Sessions:   f.store,
		Messages:   f.store.Messages(),
		Responder:  f.responder,
		Dispatcher: f.dispatcher,
		Publisher:  f.pub,
	})
	return f
}

func (f *fixture) messages(t *testing.T, sessionID string) []entities.ChatMessage {
	t.Helper()
	msgs, err := f.store.Recent(context.Background(), sessionID, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	return msgs
}

func countSender(msgs []entities.ChatMessage, sender entities.SenderType) int {
	n := 0
	for _, m := range msgs {
		if m.SenderType == sender {
			n++
		}
	}
	return n
}
