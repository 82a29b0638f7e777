package infrastructure

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
)

const (
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 1024
)

type AnthropicProvider struct {
	apiBase      string
	defaultModel string
	client       *http.Client
}

func NewAnthropicProvider(apiBase string) *AnthropicProvider {
	if apiBase == "" {
		apiBase = anthropicAPIBase
	}
	return &AnthropicProvider{
		apiBase:      strings.TrimRight(apiBase, "/"),
		defaultModel: "claude-3-5-haiku-latest",
		client:       &http.Client{Timeout: 120 * time.Second},
	}
}

var _ interfaces.ChatProvider = (*AnthropicProvider)(nil)

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

// Chat lifts system turns into the top-level system field, which the
// Messages API requires.
func (p *AnthropicProvider) Chat(ctx context.Context, apiKey, model string, messages []entities.PromptMessage) (string, error) {
	if model == "" {
		model = p.defaultModel
	}
	var system []string
	turns := make([]entities.PromptMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}

	body := map[string]interface{}{
		"model":      model,
		"max_tokens": anthropicMaxTokens,
		"messages":   turns,
	}
	if len(system) > 0 {
		body["system"] = strings.Join(system, "\n\n")
	}

	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	headers := map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": anthropicAPIVersion,
	}
	if err := postJSON(ctx, p.client, p.apiBase+"/messages", headers, body, &out); err != nil {
		return "", providerError("anthropic", err)
	}

	var b strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("anthropic: empty completion")
	}
	return strings.TrimSpace(b.String()), nil
}
