package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
	"talk2chat/internal/logging"
)

// AIService routes completion requests to the configured LLM provider.
type AIService struct {
	providers       map[string]interfaces.ChatProvider
	defaultProvider string
	envKeys         map[string]string
	dir             interfaces.TenantDirectory
}

// NewAIService registers providers by name. envKeys holds the process-wide
// fallback key per provider.
func NewAIService(defaultProvider string, envKeys map[string]string, dir interfaces.TenantDirectory, providers ...interfaces.ChatProvider) *AIService {
	s := &AIService{
		providers:       make(map[string]interfaces.ChatProvider, len(providers)),
		defaultProvider: strings.ToLower(defaultProvider),
		envKeys:         make(map[string]string, len(envKeys)),
		dir:             dir,
	}
	for _, p := range providers {
		s.providers[strings.ToLower(p.Name())] = p
	}
	for k, v := range envKeys {
		s.envKeys[strings.ToLower(k)] = v
	}
	if s.defaultProvider == "" {
		s.defaultProvider = "openai"
	}
	return s
}

func (s *AIService) Provider(name string) (interfaces.ChatProvider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = s.defaultProvider
	}
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entities.ErrUnknownProvider, name)
	}
	return p, nil
}

// tenantSettings loads the AI settings of tenantID, or of the global
// config when tenantID is nil. A missing config is not an error.
func (s *AIService) tenantSettings(ctx context.Context, tenantID *string) (entities.AISettings, error) {
	if s.dir == nil {
		return entities.AISettings{}, nil
	}
	cfg, err := s.dir.GetConfig(ctx, tenantID)
	if errors.Is(err, entities.ErrTenantNotFound) {
		return entities.AISettings{}, nil
	}
	if err != nil {
		return entities.AISettings{}, err
	}
	return cfg.AI, nil
}

// ResolveKey picks the key for provider: an explicit key, then the
// tenant's stored key, then the process default.
func (s *AIService) ResolveKey(explicit, provider string, settings entities.AISettings) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if key := settings.APIKey(provider); key != "" {
		return key, nil
	}
	if key := s.envKeys[strings.ToLower(provider)]; key != "" {
		return key, nil
	}
	return "", fmt.Errorf("%w for %s", entities.ErrNoAPIKey, provider)
}

// Complete answers req.Message given the history and instructions.
func (s *AIService) Complete(ctx context.Context, req entities.CompletionRequest) (string, error) {
	settings, err := s.tenantSettings(ctx, req.TenantID)
	if err != nil {
		return "", fmt.Errorf("load ai settings: %w", err)
	}
	return s.complete(ctx, req, settings)
}

// CompleteWith is Complete for callers that already hold the settings.
func (s *AIService) CompleteWith(ctx context.Context, req entities.CompletionRequest, settings entities.AISettings) (string, error) {
	return s.complete(ctx, req, settings)
}

func (s *AIService) complete(ctx context.Context, req entities.CompletionRequest, settings entities.AISettings) (string, error) {
	name := req.Provider
	if name == "" {
		name = settings.Provider
	}
	provider, err := s.Provider(name)
	if err != nil {
		return "", err
	}
	key, err := s.ResolveKey(req.APIKey, provider.Name(), settings)
	if err != nil {
		return "", err
	}
	model := req.Model
	if model == "" && (settings.Provider == "" || strings.EqualFold(settings.Provider, provider.Name())) {
		// The tenant model only applies to the tenant's own provider.
		model = settings.Model
	}
	if model == "" {
		model = provider.DefaultModel()
	}
	instructions := req.Instructions
	if instructions == "" {
		instructions = settings.Instructions
	}

	reply, err := provider.Chat(ctx, key, model, BuildPrompt(instructions, req.History, req.Message))
	if err != nil {
		logging.Warn().Err(err).Str("provider", provider.Name()).Str("model", model).Msg("ai completion failed")
		return "", err
	}
	return reply, nil
}

// BuildPrompt lays out system instructions, prior turns and the new
// message. Turns with unknown roles or no content are dropped.
func BuildPrompt(instructions string, history []entities.PromptMessage, message string) []entities.PromptMessage {
	out := make([]entities.PromptMessage, 0, len(history)+2)
	if strings.TrimSpace(instructions) != "" {
		out = append(out, entities.PromptMessage{Role: "system", Content: instructions})
	}
	for _, h := range history {
		switch h.Role {
		case "user", "assistant", "system":
		default:
			continue
		}
		if strings.TrimSpace(h.Content) == "" {
			continue
		}
		out = append(out, h)
	}
	return append(out, entities.PromptMessage{Role: "user", Content: message})
}

// EmbeddingKey returns the key used for knowledge-base embeddings, which
// always go through the OpenAI embeddings API.
func (s *AIService) EmbeddingKey(settings entities.AISettings) (string, error) {
	return s.ResolveKey("", "openai", settings)
}
