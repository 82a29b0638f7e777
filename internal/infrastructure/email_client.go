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

// EmailClient sends replies through a transactional email API
// (Resend-compatible POST /emails).
type EmailClient struct {
	baseURL string
	http    *http.Client
}

func NewEmailClient(baseURL string, timeout time.Duration) *EmailClient {
	return &EmailClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

var _ interfaces.Relayer = (*EmailClient)(nil)

// ReplySubject prefixes subject with "Re:" unless it already has one.
func ReplySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "Re: Your message"
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

func (e *EmailClient) Send(ctx context.Context, msg entities.OutboundMessage) (string, error) {
	if msg.Credentials.Token == "" || msg.Credentials.AccountID == "" {
		return "", fmt.Errorf("email: %w", entities.ErrMissingCredential)
	}
	payload := map[string]interface{}{
		"from":    msg.Credentials.AccountID,
		"to":      []string{msg.To},
		"subject": ReplySubject(msg.Subject),
		"text":    msg.Text,
	}
	var out struct {
		ID string `json:"id"`
	}
	headers := map[string]string{"Authorization": "Bearer " + msg.Credentials.Token}
	if err := postJSON(ctx, e.http, e.baseURL+"/emails", headers, payload, &out); err != nil {
		return "", relayError(entities.ChannelEmail, err)
	}
	return out.ID, nil
}
