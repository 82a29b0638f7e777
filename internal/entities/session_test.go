package entities

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to SessionStatus
		want     bool
	}{
		{StatusActive, StatusEscalated, true},
		{StatusPending, StatusResolved, true},
		{StatusOpen, StatusClosed, true},
		{StatusActive, StatusActive, false},
		{StatusResolved, StatusActive, false},
		{StatusClosed, StatusOpen, false},
		{StatusActive, "archived", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSameTenantAndScope(t *testing.T) {
	a, a2, b := "a", "a", "b"
	if !SameTenant(nil, nil) || !SameTenant(&a, &a2) {
		t.Error("equal tenants reported different")
	}
	if SameTenant(&a, nil) || SameTenant(nil, &b) || SameTenant(&a, &b) {
		t.Error("different tenants reported equal")
	}

	evtA := Event{Type: EventMessageInsert, TenantID: &a}
	evtGlobal := Event{Type: EventMessageInsert}
	if !TenantScope("a").Allows(evtA) || TenantScope("a").Allows(evtGlobal) {
		t.Error("tenant scope leaks or drops events")
	}
	if !GlobalScope().Allows(evtGlobal) || GlobalScope().Allows(evtA) {
		t.Error("global scope must see exactly the global inbox")
	}
	if GlobalScope().String() != "global" || TenantScope("a").String() != "tenant:a" {
		t.Error("unexpected scope names")
	}
}

func TestTenantGates(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		tenant    Tenant
		used      int
		active    bool
		exhausted bool
		over      bool
	}{
		{"unmetered", Tenant{Status: TenantActive, AICredits: UnmeteredCredits}, 1000, true, false, false},
		{"no credits", Tenant{Status: TenantActive, AICredits: 0}, 0, true, true, false},
		{"at limit", Tenant{Status: TenantActive, AICredits: 5, AIUsageLimit: 10}, 10, true, false, true},
		{"under limit", Tenant{Status: TenantActive, AICredits: 5, AIUsageLimit: 10}, 9, true, false, false},
		{"suspended", Tenant{Status: TenantSuspended, AICredits: 5}, 0, false, false, false},
		{"soft deleted", Tenant{Status: TenantActive, AICredits: 5, DeletedAt: &now}, 0, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tenant.Active(); got != tt.active {
				t.Errorf("Active = %v", got)
			}
			if got := tt.tenant.CreditsExhausted(); got != tt.exhausted {
				t.Errorf("CreditsExhausted = %v", got)
			}
			if got := tt.tenant.OverUsageLimit(tt.used); got != tt.over {
				t.Errorf("OverUsageLimit = %v", got)
			}
		})
	}
}

func TestWidgetConfigCredentials(t *testing.T) {
	cfg := WidgetConfig{Integrations: Integrations{
		WhatsApp: WhatsAppIntegration{PhoneNumberID: "1555", APIKey: "wa"},
		Email:    EmailIntegration{InboundAddress: "in@acme.test", APIKey: "re"},
		Telegram: TelegramIntegration{WebhookKey: "k", BotToken: "123:abc"},
	}}
	if c := cfg.Credentials(ChannelWhatsApp); c.AccountID != "1555" || c.Token != "wa" {
		t.Errorf("whatsapp = %+v", c)
	}
	if c := cfg.Credentials(ChannelEmail); c.AccountID != "in@acme.test" {
		t.Errorf("email sender should fall back to inbound address: %+v", c)
	}
	cfg.Integrations.Email.FromAddress = "noreply@acme.test"
	if c := cfg.Credentials(ChannelEmail); c.AccountID != "noreply@acme.test" {
		t.Errorf("email = %+v", c)
	}
	cfg.Integrations.Instagram = MetaIntegration{PageID: "ig-page", AccessToken: "ig-token"}
	if c := cfg.Credentials(ChannelFacebook); c.AccountID != "ig-page" || c.Token != "ig-token" {
		t.Errorf("facebook should fall back to the instagram page: %+v", c)
	}
	cfg.Integrations.Facebook = MetaIntegration{PageID: "fb-page", AccessToken: "fb-token"}
	if c := cfg.Credentials(ChannelFacebook); c.AccountID != "fb-page" {
		t.Errorf("facebook = %+v", c)
	}
	if c := cfg.Credentials(ChannelWeb); c != (Credentials{}) {
		t.Errorf("web = %+v", c)
	}

	off := false
	if !(AISettings{}).AutoReplyEnabled() || (AISettings{AutoReply: &off}).AutoReplyEnabled() {
		t.Error("auto reply default")
	}
	if (AISettings{Keys: map[string]string{"openai": "sk"}}).APIKey("OpenAI") != "sk" {
		t.Error("APIKey lookup is case-insensitive")
	}
}
