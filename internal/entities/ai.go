package entities

// PromptMessage is one turn of conversation context sent to a model.
type PromptMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// CompletionRequest is the provider-agnostic input of one AI reply.
type CompletionRequest struct {
	Message      string          `json:"message"`
	History      []PromptMessage `json:"history"`
	Instructions string          `json:"instructions"`
	Provider     string          `json:"provider"`
	Model        string          `json:"modelName"`
	TenantID     *string         `json:"tenant_id"`
	APIKey       string          `json:"-"`
}

// OutboundMessage is what a relay pushes to an external channel.
type OutboundMessage struct {
	Channel     Channel
	To          string
	Text        string
	Subject     string
	Credentials Credentials
}
