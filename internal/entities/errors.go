package entities

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTenantNotFound    = errors.New("tenant not found for destination")
	ErrSessionNotFound   = errors.New("session not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrProfileNotFound   = errors.New("profile not found")
	ErrNothingToRoute    = errors.New("event carries no routable message")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrNoAPIKey          = errors.New("no AI API key configured")
	ErrUnknownProvider   = errors.New("unknown AI provider")
	ErrAgentAssigned     = errors.New("session is assigned to a human agent")
	ErrAIDisabled        = errors.New("AI replies are disabled")
	ErrUsageExhausted    = errors.New("AI usage exhausted")
	ErrThrottled         = errors.New("AI reply throttled")
	ErrNoRelay           = errors.New("no relay for channel")
	ErrMissingCredential = errors.New("channel credentials not configured")
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrAccountClaimed    = errors.New("channel account is claimed by another tenant")
)

// PayloadError describes why an inbound payload was rejected at the boundary.
type PayloadError struct {
	Channel Channel
	Fields  []string
	Reason  string
}

func (e *PayloadError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s payload: %s", e.Channel, e.Reason)
	}
	return fmt.Sprintf("%s payload: %s (%s)", e.Channel, e.Reason, strings.Join(e.Fields, ", "))
}

func (e *PayloadError) Is(target error) bool {
	return target == ErrMalformedPayload
}

// RelayError is a non-2xx answer from an outbound channel API.
type RelayError struct {
	Channel Channel
	Status  int
	Body    string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("%s relay: HTTP %d: %s", e.Channel, e.Status, e.Body)
}

// Retryable is false for client errors other than rate limiting.
func (e *RelayError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}
