package entities

import "strings"

// WidgetConfig carries a tenant's channel credentials and AI settings. The
// record with a nil TenantID is the global configuration.
type WidgetConfig struct {
	ID           string       `json:"id"`
	TenantID     *string      `json:"tenant_id"`
	CompanyEmail string       `json:"company_email,omitempty"`
	Integrations Integrations `json:"integrations"`
	AI           AISettings   `json:"ai"`
}

type Integrations struct {
	WhatsApp  WhatsAppIntegration `json:"whatsapp"`
	Instagram MetaIntegration     `json:"instagram"`
	Facebook  MetaIntegration     `json:"facebook"`
	Email     EmailIntegration    `json:"email"`
	Telegram  TelegramIntegration `json:"telegram"`
}

type WhatsAppIntegration struct {
	PhoneNumberID string `json:"phone_number_id"`
	APIKey        string `json:"api_key"`
	VerifyToken   string `json:"verify_token,omitempty"`
}

type MetaIntegration struct {
	PageID      string `json:"page_id"`
	AccessToken string `json:"access_token"`
}

type EmailIntegration struct {
	InboundAddress string `json:"inbound_address"`
	APIKey         string `json:"api_key"`
	FromAddress    string `json:"from_address,omitempty"`
}

type TelegramIntegration struct {
	WebhookKey  string `json:"webhook_key"`
	BotToken    string `json:"bot_token"`
	SecretToken string `json:"secret_token,omitempty"`
}

type AISettings struct {
	Provider      string            `json:"provider,omitempty"`
	Model         string            `json:"model,omitempty"`
	Instructions  string            `json:"instructions,omitempty"`
	Keys          map[string]string `json:"keys,omitempty"`
	KnowledgeBase bool              `json:"knowledge_base"`
	AutoReply     *bool             `json:"auto_reply,omitempty"`
}

// AutoReplyEnabled defaults to true when the tenant never set the flag.
func (a AISettings) AutoReplyEnabled() bool {
	return a.AutoReply == nil || *a.AutoReply
}

// APIKey returns the tenant key for provider.
func (a AISettings) APIKey(provider string) string {
	if a.Keys == nil {
		return ""
	}
	return a.Keys[strings.ToLower(provider)]
}

// Credentials is what an outbound relay needs to address one channel.
type Credentials struct {
	AccountID string // phone_number_id, page_id, sender address or bot token
	Token     string
}

// Credentials returns the relay credentials the config holds for channel.
func (w *WidgetConfig) Credentials(ch Channel) Credentials {
	switch ch {
	case ChannelWhatsApp:
		return Credentials{AccountID: w.Integrations.WhatsApp.PhoneNumberID, Token: w.Integrations.WhatsApp.APIKey}
	case ChannelInstagram:
		return metaCredentials(w.Integrations.Instagram, w.Integrations.Facebook)
	case ChannelFacebook:
		return metaCredentials(w.Integrations.Facebook, w.Integrations.Instagram)
	case ChannelEmail:
		from := w.Integrations.Email.FromAddress
		if from == "" {
			from = w.Integrations.Email.InboundAddress
		}
		return Credentials{AccountID: from, Token: w.Integrations.Email.APIKey}
	case ChannelTelegram:
		return Credentials{AccountID: w.Integrations.Telegram.WebhookKey, Token: w.Integrations.Telegram.BotToken}
	}
	return Credentials{}
}

// metaCredentials falls back to the sibling page: inbound events for one
// Meta surface are accepted through the other's page id, so replies must
// be able to leave through it too.
func metaCredentials(own, sibling MetaIntegration) Credentials {
	if own.PageID == "" && own.AccessToken == "" {
		own = sibling
	}
	return Credentials{AccountID: own.PageID, Token: own.AccessToken}
}

// RoutedChannels are the channels whose inbound traffic is matched to a
// config by account id.
var RoutedChannels = []Channel{ChannelWhatsApp, ChannelInstagram, ChannelFacebook, ChannelEmail, ChannelTelegram}

// AccountID is the inbound routing key the config claims on ch. Email
// addresses are compared lowercased.
func (w *WidgetConfig) AccountID(ch Channel) string {
	in := w.Integrations
	switch ch {
	case ChannelWhatsApp:
		return in.WhatsApp.PhoneNumberID
	case ChannelInstagram:
		return in.Instagram.PageID
	case ChannelFacebook:
		return in.Facebook.PageID
	case ChannelEmail:
		return strings.ToLower(strings.TrimSpace(in.Email.InboundAddress))
	case ChannelTelegram:
		return in.Telegram.WebhookKey
	}
	return ""
}
