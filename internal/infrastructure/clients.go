package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
)

const maxErrorBody = 2048

// statusError is a non-2xx answer; callers convert it into a channel or
// provider specific error.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.status, e.body)
}

// postJSON sends payload and decodes a 2xx answer into out.
func postJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &statusError{status: resp.StatusCode, body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// relayError tags err with the channel, lifting HTTP failures into
// *entities.RelayError.
func relayError(channel entities.Channel, err error) error {
	var se *statusError
	if errors.As(err, &se) {
		return &entities.RelayError{Channel: channel, Status: se.status, Body: se.body}
	}
	return fmt.Errorf("%s: %w", channel, err)
}

// GraphClient relays WhatsApp Cloud API and Messenger/Instagram replies
// through the Meta Graph API.
type GraphClient struct {
	baseURL string
	http    *http.Client
}

func NewGraphClient(baseURL string, timeout time.Duration) *GraphClient {
	return &GraphClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

var _ interfaces.Relayer = (*GraphClient)(nil)

func (g *GraphClient) Send(ctx context.Context, msg entities.OutboundMessage) (string, error) {
	if msg.Credentials.Token == "" {
		return "", fmt.Errorf("%s: %w", msg.Channel, entities.ErrMissingCredential)
	}
	switch msg.Channel {
	case entities.ChannelWhatsApp:
		return g.sendWhatsApp(ctx, msg)
	case entities.ChannelInstagram, entities.ChannelFacebook:
		return g.sendMessenger(ctx, msg)
	}
	return "", fmt.Errorf("graph: %w: %s", entities.ErrNoRelay, msg.Channel)
}

func (g *GraphClient) sendWhatsApp(ctx context.Context, msg entities.OutboundMessage) (string, error) {
	if msg.Credentials.AccountID == "" {
		return "", fmt.Errorf("whatsapp phone_number_id: %w", entities.ErrMissingCredential)
	}
	endpoint := fmt.Sprintf("%s/%s/messages", g.baseURL, msg.Credentials.AccountID)
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                msg.To,
		"type":              "text",
		"text": map[string]string{
			"body": msg.Text,
		},
	}
	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	headers := map[string]string{"Authorization": "Bearer " + msg.Credentials.Token}
	if err := postJSON(ctx, g.http, endpoint, headers, payload, &out); err != nil {
		return "", relayError(msg.Channel, err)
	}
	if len(out.Messages) == 0 {
		return "", nil
	}
	return out.Messages[0].ID, nil
}

func (g *GraphClient) sendMessenger(ctx context.Context, msg entities.OutboundMessage) (string, error) {
	endpoint := fmt.Sprintf("%s/me/messages?access_token=%s", g.baseURL, url.QueryEscape(msg.Credentials.Token))
	payload := map[string]interface{}{
		"recipient":      map[string]string{"id": msg.To},
		"messaging_type": "RESPONSE",
		"message":        map[string]string{"text": msg.Text},
	}
	var out struct {
		MessageID string `json:"message_id"`
	}
	if err := postJSON(ctx, g.http, endpoint, nil, payload, &out); err != nil {
		return "", relayError(msg.Channel, err)
	}
	return out.MessageID, nil
}

// TelegramClient relays replies through per-tenant Telegram bots. Bots are
// created on first use and cached by token.
type TelegramClient struct {
	endpoint string
	http     *http.Client
	mu       sync.RWMutex
	bots     map[string]*tgbotapi.BotAPI
}

func NewTelegramClient(endpoint string, timeout time.Duration) *TelegramClient {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	return &TelegramClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		bots:     make(map[string]*tgbotapi.BotAPI),
	}
}

var _ interfaces.Relayer = (*TelegramClient)(nil)

func (t *TelegramClient) bot(token string) (*tgbotapi.BotAPI, error) {
	t.mu.RLock()
	bot, ok := t.bots[token]
	t.mu.RUnlock()
	if ok {
		return bot, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if bot, ok := t.bots[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, t.endpoint, t.http)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	t.bots[token] = bot
	return bot, nil
}

func (t *TelegramClient) Send(ctx context.Context, msg entities.OutboundMessage) (string, error) {
	if msg.Credentials.Token == "" {
		return "", fmt.Errorf("telegram: %w", entities.ErrMissingCredential)
	}
	chatID, err := strconv.ParseInt(msg.To, 10, 64)
	if err != nil {
		return "", fmt.Errorf("telegram chat id %q: %w", msg.To, err)
	}
	bot, err := t.bot(msg.Credentials.Token)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sent, err := bot.Send(tgbotapi.NewMessage(chatID, msg.Text))
	if err != nil {
		return "", fmt.Errorf("telegram send: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}
