package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"talk2chat/internal/entities"
)

type capturedRequest struct {
	path   string
	query  string
	header http.Header
	body   map[string]any
}

func captureServer(t *testing.T, status int, response string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	got := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.header = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestGraphClientWhatsApp(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK, `{"messages":[{"id":"wamid.1"}]}`)
	g := NewGraphClient(srv.URL, time.Second)

	id, err := g.Send(context.Background(), entities.OutboundMessage{
		Channel:     entities.ChannelWhatsApp,
		To:          "62811",
		Text:        "hello",
		Credentials: entities.Credentials{AccountID: "1555", Token: "wa-token"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "wamid.1" {
		t.Errorf("id = %q", id)
	}
	if got.path != "/1555/messages" {
		t.Errorf("path = %q", got.path)
	}
	if got.header.Get("Authorization") != "Bearer wa-token" {
		t.Errorf("authorization = %q", got.header.Get("Authorization"))
	}
	if got.body["to"] != "62811" || got.body["messaging_product"] != "whatsapp" {
		t.Errorf("body = %v", got.body)
	}
}

func TestGraphClientMessenger(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK, `{"recipient_id":"psid","message_id":"mid.9"}`)
	g := NewGraphClient(srv.URL, time.Second)

	id, err := g.Send(context.Background(), entities.OutboundMessage{
		Channel:     entities.ChannelInstagram,
		To:          "psid",
		Text:        "hi",
		Credentials: entities.Credentials{AccountID: "page", Token: "page-token"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "mid.9" || got.path != "/me/messages" || got.query != "access_token=page-token" {
		t.Errorf("id=%q path=%q query=%q", id, got.path, got.query)
	}
	if got.body["messaging_type"] != "RESPONSE" {
		t.Errorf("body = %v", got.body)
	}
}

func TestGraphClientErrors(t *testing.T) {
	srv, _ := captureServer(t, http.StatusBadRequest, `{"error":{"message":"invalid token"}}`)
	g := NewGraphClient(srv.URL, time.Second)

	_, err := g.Send(context.Background(), entities.OutboundMessage{
		Channel:     entities.ChannelWhatsApp,
		To:          "1",
		Credentials: entities.Credentials{AccountID: "1555", Token: "bad"},
	})
	var relayErr *entities.RelayError
	if !errors.As(err, &relayErr) {
		t.Fatalf("err = %v, want *RelayError", err)
	}
	if relayErr.Status != http.StatusBadRequest || relayErr.Retryable() {
		t.Errorf("relay error = %+v retryable=%v", relayErr, relayErr.Retryable())
	}

	_, err = g.Send(context.Background(), entities.OutboundMessage{Channel: entities.ChannelFacebook, To: "1"})
	if !errors.Is(err, entities.ErrMissingCredential) {
		t.Errorf("missing token err = %v", err)
	}
	_, err = g.Send(context.Background(), entities.OutboundMessage{
		Channel:     entities.ChannelEmail,
		Credentials: entities.Credentials{Token: "x"},
	})
	if !errors.Is(err, entities.ErrNoRelay) {
		t.Errorf("email via graph err = %v", err)
	}
}

func TestEmailClient(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK, `{"id":"email-1"}`)
	e := NewEmailClient(srv.URL, time.Second)

	id, err := e.Send(context.Background(), entities.OutboundMessage{
		Channel:     entities.ChannelEmail,
		To:          "jane@example.com",
		Text:        "thanks",
		Subject:     "Order issue",
		Credentials: entities.Credentials{AccountID: "support@acme.test", Token: "re_key"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "email-1" || got.path != "/emails" {
		t.Errorf("id=%q path=%q", id, got.path)
	}
	if got.body["subject"] != "Re: Order issue" || got.body["from"] != "support@acme.test" {
		t.Errorf("body = %v", got.body)
	}
}

func TestReplySubject(t *testing.T) {
	tests := map[string]string{
		"":                 "Re: Your message",
		"Order issue":      "Re: Order issue",
		"RE: Order issue":  "RE: Order issue",
		"  re: follow up ": "re: follow up",
	}
	for in, want := range tests {
		if got := ReplySubject(in); got != want {
			t.Errorf("ReplySubject(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOpenAIProviderChat(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK, `{"choices":[{"message":{"content":"  Hi there  "}}]}`)
	p := NewOpenAIProvider("groq", srv.URL+"/", "llama")

	out, err := p.Chat(context.Background(), "gk", "", []entities.PromptMessage{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "Hi there" {
		t.Errorf("out = %q", out)
	}
	if got.path != "/chat/completions" || got.body["model"] != "llama" {
		t.Errorf("path=%q body=%v", got.path, got.body)
	}
}

func TestOpenAIProviderHTTPError(t *testing.T) {
	srv, _ := captureServer(t, http.StatusUnauthorized, `{"error":"bad key"}`)
	p := NewOpenAIProvider("openai", srv.URL, "gpt")

	_, err := p.Chat(context.Background(), "bad", "", nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusUnauthorized || httpErr.Provider != "openai" {
		t.Fatalf("err = %v", err)
	}
}

func TestAnthropicProviderLiftsSystem(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK, `{"content":[{"type":"text","text":"Sure."}]}`)
	p := NewAnthropicProvider(srv.URL)

	out, err := p.Chat(context.Background(), "ak", "", []entities.PromptMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "help"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "Sure." {
		t.Errorf("out = %q", out)
	}
	if got.body["system"] != "be brief" {
		t.Errorf("system = %v", got.body["system"])
	}
	if msgs, _ := got.body["messages"].([]any); len(msgs) != 1 {
		t.Errorf("messages = %v", got.body["messages"])
	}
	if got.header.Get("x-api-key") != "ak" || got.header.Get("anthropic-version") != anthropicAPIVersion {
		t.Errorf("headers = %v", got.header)
	}
}
