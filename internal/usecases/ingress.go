package usecases

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"talk2chat/internal/entities"
)

// InboundEvent is a channel message normalized for routing.
type InboundEvent struct {
	Channel entities.Channel `validate:"required,oneof=web whatsapp instagram facebook email telegram"`
	// Destination is the tenant-side account the message was addressed to;
	// for web it is the tenant id, empty for the global inbox.
	Destination       string `validate:"required_unless=Channel web,max=320"`
	ExternalID        string `validate:"required,max=320"`
	SenderName        string `validate:"max=256"`
	Content           string `validate:"required"`
	ProviderMessageID string
	Metadata          map[string]any
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// checkEvent turns validator failures into a *PayloadError naming the
// offending fields.
func checkEvent(evt InboundEvent) (InboundEvent, error) {
	err := getValidator().Struct(evt)
	if err == nil {
		return evt, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return evt, &entities.PayloadError{Channel: evt.Channel, Reason: err.Error()}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s:%s", fe.Field(), fe.Tag()))
	}
	return evt, &entities.PayloadError{Channel: evt.Channel, Fields: fields, Reason: "missing routing keys"}
}

func decode(ch entities.Channel, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &entities.PayloadError{Channel: ch, Reason: "invalid JSON: " + err.Error()}
	}
	return nil
}

// Meta webhook objects.
const (
	MetaObjectWhatsApp  = "whatsapp_business_account"
	MetaObjectInstagram = "instagram"
	MetaObjectPage      = "page"
)

// ParseMeta picks the adapter from the payload's object field.
func ParseMeta(body []byte) (InboundEvent, error) {
	var head struct {
		Object string `json:"object"`
	}
	if err := decode("meta", body, &head); err != nil {
		return InboundEvent{}, err
	}
	switch head.Object {
	case MetaObjectWhatsApp:
		return ParseWhatsApp(body)
	case MetaObjectInstagram:
		return ParseMessenger(entities.ChannelInstagram, body)
	case MetaObjectPage:
		return ParseMessenger(entities.ChannelFacebook, body)
	}
	return InboundEvent{}, &entities.PayloadError{Channel: "meta", Fields: []string{"object"}, Reason: fmt.Sprintf("unsupported object %q", head.Object)}
}

type WhatsAppPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string        `json:"field"`
			Value WhatsAppValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type WhatsAppValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []WhatsAppMessage `json:"messages"`
	Statuses []json.RawMessage `json:"statuses"`
}

type WhatsAppMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type        string      `json:"type"`
		ButtonReply *replyTitle `json:"button_reply"`
		ListReply   *replyTitle `json:"list_reply"`
	} `json:"interactive"`
	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button"`
	Image    *whatsAppMedia `json:"image"`
	Video    *whatsAppMedia `json:"video"`
	Audio    *whatsAppMedia `json:"audio"`
	Document *whatsAppMedia `json:"document"`
	Sticker  *whatsAppMedia `json:"sticker"`
}

type replyTitle struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type whatsAppMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

// Attachment is stored on message metadata for media the visitor sent.
type Attachment struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// text returns what the visitor said plus any media they attached.
func (m WhatsAppMessage) text() (string, []Attachment) {
	switch {
	case m.Text != nil && strings.TrimSpace(m.Text.Body) != "":
		return m.Text.Body, nil
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		return m.Interactive.ButtonReply.Title, nil
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		return m.Interactive.ListReply.Title, nil
	case m.Button != nil && m.Button.Text != "":
		return m.Button.Text, nil
	}

	media := map[string]*whatsAppMedia{
		"image": m.Image, "video": m.Video, "audio": m.Audio, "document": m.Document, "sticker": m.Sticker,
	}
	if md, ok := media[m.Type]; ok && md != nil {
		att := []Attachment{{Type: m.Type, ID: md.ID, MimeType: md.MimeType, Filename: md.Filename}}
		if strings.TrimSpace(md.Caption) != "" {
			return md.Caption, att
		}
		return "[" + m.Type + "]", att
	}
	return "", nil
}

func ParseWhatsApp(body []byte) (InboundEvent, error) {
	var p WhatsAppPayload
	if err := decode(entities.ChannelWhatsApp, body, &p); err != nil {
		return InboundEvent{}, err
	}
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return InboundEvent{}, &entities.PayloadError{Channel: entities.ChannelWhatsApp, Fields: []string{"entry[0].changes[0]"}, Reason: "missing change"}
	}
	value := p.Entry[0].Changes[0].Value
	if len(value.Messages) == 0 {
		// Delivery/read status callbacks carry no visitor message.
		return InboundEvent{}, entities.ErrNothingToRoute
	}

	msg := value.Messages[0]
	content, attachments := msg.text()
	if strings.TrimSpace(content) == "" {
		return InboundEvent{}, entities.ErrNothingToRoute
	}

	evt := InboundEvent{
		Channel:           entities.ChannelWhatsApp,
		Destination:       value.Metadata.PhoneNumberID,
		ExternalID:        msg.From,
		Content:           content,
		ProviderMessageID: msg.ID,
		Metadata:          map[string]any{"message_type": msg.Type},
	}
	if len(value.Contacts) > 0 {
		evt.SenderName = value.Contacts[0].Profile.Name
	}
	if len(attachments) > 0 {
		evt.Metadata[entities.MetaAttachments] = attachments
	}
	return checkEvent(evt)
}

// MessengerPayload covers both Instagram and Facebook Messenger webhooks.
type MessengerPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string           `json:"id"`
		Time      int64            `json:"time"`
		Messaging []MessengerEvent `json:"messaging"`
	} `json:"entry"`
}

type MessengerEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		MID         string `json:"mid"`
		Text        string `json:"text"`
		IsEcho      bool   `json:"is_echo"`
		Attachments []struct {
			Type    string `json:"type"`
			Payload struct {
				URL string `json:"url"`
			} `json:"payload"`
		} `json:"attachments"`
	} `json:"message"`
}

func ParseMessenger(ch entities.Channel, body []byte) (InboundEvent, error) {
	var p MessengerPayload
	if err := decode(ch, body, &p); err != nil {
		return InboundEvent{}, err
	}
	if len(p.Entry) == 0 {
		return InboundEvent{}, &entities.PayloadError{Channel: ch, Fields: []string{"entry[0]"}, Reason: "missing entry"}
	}
	entry := p.Entry[0]
	if len(entry.Messaging) == 0 {
		return InboundEvent{}, entities.ErrNothingToRoute
	}
	ev := entry.Messaging[0]
	// Echoes are our own outbound replies coming back.
	if ev.Message == nil || ev.Message.IsEcho {
		return InboundEvent{}, entities.ErrNothingToRoute
	}

	content := ev.Message.Text
	var attachments []Attachment
	for _, a := range ev.Message.Attachments {
		attachments = append(attachments, Attachment{Type: a.Type, URL: a.Payload.URL})
	}
	if strings.TrimSpace(content) == "" && len(attachments) > 0 {
		content = "[" + attachments[0].Type + "]"
	}
	if strings.TrimSpace(content) == "" {
		return InboundEvent{}, entities.ErrNothingToRoute
	}

	destination := ev.Recipient.ID
	if destination == "" {
		destination = entry.ID
	}
	evt := InboundEvent{
		Channel:           ch,
		Destination:       destination,
		ExternalID:        ev.Sender.ID,
		SenderName:        defaultVisitorName(ch),
		Content:           content,
		ProviderMessageID: ev.Message.MID,
		Metadata:          map[string]any{},
	}
	if len(attachments) > 0 {
		evt.Metadata[entities.MetaAttachments] = attachments
	}
	return checkEvent(evt)
}

// EmailPayload accepts the common inbound-parse shapes. JSON keys match
// case-insensitively, so "From" and "from" both land in From.
type EmailPayload struct {
	From      string          `json:"from"`
	FromName  string          `json:"fromname"`
	To        json.RawMessage `json:"to"`
	Subject   string          `json:"subject"`
	TextBody  string          `json:"textbody"`
	Text      string          `json:"text"`
	Body      string          `json:"body"`
	MessageID string          `json:"messageid"`
}

// recipients accepts "a@x", "a@x, b@y" and ["a@x"].
func (p EmailPayload) recipients() []string {
	if len(p.To) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(p.To, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(p.To, &single); err != nil {
		return nil
	}
	return strings.Split(single, ",")
}

// parseAddress splits "Name <addr>" and lowercases the address.
func parseAddress(raw string) (name, address string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}
	if a, err := mail.ParseAddress(raw); err == nil {
		return a.Name, strings.ToLower(a.Address)
	}
	return "", strings.ToLower(strings.Trim(raw, "<> "))
}

func ParseEmail(body []byte) (InboundEvent, error) {
	var p EmailPayload
	if err := decode(entities.ChannelEmail, body, &p); err != nil {
		return InboundEvent{}, err
	}

	content := firstNonEmpty(p.TextBody, p.Text, p.Body)
	if content == "" {
		return InboundEvent{}, entities.ErrNothingToRoute
	}

	name, from := parseAddress(p.From)
	if name == "" {
		name = p.FromName
	}
	if name == "" && from != "" {
		name = strings.SplitN(from, "@", 2)[0]
	}
	var to string
	for _, r := range p.recipients() {
		if _, addr := parseAddress(r); addr != "" {
			to = addr
			break
		}
	}

	evt := InboundEvent{
		Channel:           entities.ChannelEmail,
		Destination:       to,
		ExternalID:        from,
		SenderName:        name,
		Content:           content,
		ProviderMessageID: p.MessageID,
		Metadata:          map[string]any{entities.MetaSubject: strings.TrimSpace(p.Subject)},
	}
	return checkEvent(evt)
}

type WebPayload struct {
	VisitorID  string         `json:"visitor_id"`
	TenantID   *string        `json:"tenant_id"`
	Content    string         `json:"content"`
	SenderName string         `json:"sender_name"`
	Metadata   map[string]any `json:"metadata"`
}

func ParseWeb(body []byte) (InboundEvent, error) {
	var p WebPayload
	if err := decode(entities.ChannelWeb, body, &p); err != nil {
		return InboundEvent{}, err
	}
	if strings.TrimSpace(p.Content) == "" {
		return InboundEvent{}, entities.ErrNothingToRoute
	}
	evt := InboundEvent{
		Channel:    entities.ChannelWeb,
		ExternalID: strings.TrimSpace(p.VisitorID),
		SenderName: p.SenderName,
		Content:    p.Content,
		Metadata:   p.Metadata,
	}
	if p.TenantID != nil {
		evt.Destination = strings.TrimSpace(*p.TenantID)
	}
	return checkEvent(evt)
}

// ParseTelegram normalizes a bot update. key is the webhook key from the
// URL, which identifies the tenant's bot.
func ParseTelegram(key string, body []byte) (InboundEvent, error) {
	var u tgbotapi.Update
	if err := decode(entities.ChannelTelegram, body, &u); err != nil {
		return InboundEvent{}, err
	}
	msg := u.Message
	if msg == nil {
		return InboundEvent{}, entities.ErrNothingToRoute
	}
	if msg.Chat == nil {
		return InboundEvent{}, &entities.PayloadError{Channel: entities.ChannelTelegram, Fields: []string{"message.chat"}, Reason: "missing chat"}
	}
	content := firstNonEmpty(msg.Text, msg.Caption)
	if content == "" {
		return InboundEvent{}, entities.ErrNothingToRoute
	}

	evt := InboundEvent{
		Channel:           entities.ChannelTelegram,
		Destination:       key,
		ExternalID:        strconv.FormatInt(msg.Chat.ID, 10),
		Content:           content,
		ProviderMessageID: strconv.Itoa(msg.MessageID),
		Metadata:          map[string]any{},
	}
	if msg.From != nil {
		evt.SenderName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if evt.SenderName == "" {
			evt.SenderName = msg.From.UserName
		}
		if msg.From.UserName != "" {
			evt.Metadata["username"] = msg.From.UserName
		}
	}
	return checkEvent(evt)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
