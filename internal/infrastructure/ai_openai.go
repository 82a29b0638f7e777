package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
)

// HTTPError is a non-2xx answer from an AI provider.
type HTTPError struct {
	Provider string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.Status, e.Body)
}

func providerError(provider string, err error) error {
	var se *statusError
	if errors.As(err, &se) {
		return &HTTPError{Provider: provider, Status: se.status, Body: se.body}
	}
	return fmt.Errorf("%s: %w", provider, err)
}

// OpenAIProvider talks to any OpenAI-compatible chat completions API.
type OpenAIProvider struct {
	name         string
	apiBase      string
	defaultModel string
	client       *http.Client
}

func NewOpenAIProvider(name, apiBase, defaultModel string) *OpenAIProvider {
	return &OpenAIProvider{
		name:         name,
		apiBase:      strings.TrimRight(apiBase, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
	}
}

// OpenAICompatibleProviders returns the default provider and its
// OpenAI-compatible alternates.
func OpenAICompatibleProviders() []*OpenAIProvider {
	return []*OpenAIProvider{
		NewOpenAIProvider("openai", "https://api.openai.com/v1", "gpt-4o-mini"),
		NewOpenAIProvider("groq", "https://api.groq.com/openai/v1", "llama-3.1-8b-instant"),
		NewOpenAIProvider("openrouter", "https://openrouter.ai/api/v1", "openai/gpt-4o-mini"),
		NewOpenAIProvider("deepseek", "https://api.deepseek.com/v1", "deepseek-chat"),
		NewOpenAIProvider("gemini", "https://generativelanguage.googleapis.com/v1beta/openai", "gemini-2.0-flash"),
	}
}

var (
	_ interfaces.ChatProvider = (*OpenAIProvider)(nil)
	_ interfaces.Embedder     = (*OpenAIProvider)(nil)
)

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Chat(ctx context.Context, apiKey, model string, messages []entities.PromptMessage) (string, error) {
	if model == "" {
		model = p.defaultModel
	}
	body := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}
	var out openAIResponse
	headers := map[string]string{"Authorization": "Bearer " + apiKey}
	if err := postJSON(ctx, p.client, p.apiBase+"/chat/completions", headers, body, &out); err != nil {
		return "", providerError(p.name, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s: empty completion", p.name)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// Embed uses the embeddings endpoint with text-embedding-3-small.
func (p *OpenAIProvider) Embed(ctx context.Context, apiKey, text string) ([]float32, error) {
	body := map[string]interface{}{
		"model": "text-embedding-3-small",
		"input": text,
	}
	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}
	if err := postJSON(ctx, p.client, p.apiBase+"/embeddings", headers, body, &out); err != nil {
		return nil, providerError(p.name, err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("%s: empty embedding", p.name)
	}
	return out.Data[0].Embedding, nil
}
