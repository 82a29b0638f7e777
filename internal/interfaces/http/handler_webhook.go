package http

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"talk2chat/internal/entities"
	"talk2chat/internal/logging"
	"talk2chat/internal/metrics"
	"talk2chat/internal/usecases"
)

// VerifyMeta answers the Graph API subscription handshake.
func (h *Handler) VerifyMeta(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || h.metaVerifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.metaVerifyToken)) != 1 {
		c.String(http.StatusForbidden, "Forbidden")
		return
	}
	c.String(http.StatusOK, challenge)
}

func (h *Handler) HandleMeta(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if h.metaAppSecret != "" && !validSignature(h.metaAppSecret, body, c.GetHeader("X-Hub-Signature-256")) {
		metrics.InboundEvents.WithLabelValues("meta", "bad_signature").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}
	evt, err := usecases.ParseMeta(body)
	h.route(c, "meta", evt, err)
}

func (h *Handler) HandleEmail(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	evt, err := usecases.ParseEmail(body)
	h.route(c, string(entities.ChannelEmail), evt, err)
}

func (h *Handler) HandleWeb(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	evt, err := usecases.ParseWeb(body)
	if err == nil {
		evt.Content = CleanContent(evt.Content)
		evt.SenderName = TruncateString(SanitizeString(evt.SenderName), MaxNameLength)
		if evt.Content == "" {
			err = entities.ErrNothingToRoute
		}
	}
	h.route(c, string(entities.ChannelWeb), evt, err)
}

// HandleTelegram accepts updates for the bot registered under :key. When
// the tenant configured a secret token, Telegram must echo it back.
func (h *Handler) HandleTelegram(c *gin.Context) {
	key := c.Param("key")
	if !ValidID(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown bot"})
		return
	}
	cfg, err := h.directory.FindConfig(c.Request.Context(), entities.ChannelTelegram, key)
	if err != nil {
		metrics.InboundEvents.WithLabelValues(string(entities.ChannelTelegram), outcome(err)).Inc()
		abortWith(c, err)
		return
	}
	if secret := cfg.Integrations.Telegram.SecretToken; secret != "" &&
		subtle.ConstantTimeCompare([]byte(c.GetHeader("X-Telegram-Bot-Api-Secret-Token")), []byte(secret)) != 1 {
		metrics.InboundEvents.WithLabelValues(string(entities.ChannelTelegram), "bad_signature").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid secret token"})
		return
	}

	body, ok := readBody(c)
	if !ok {
		return
	}
	evt, err := usecases.ParseTelegram(key, body)
	h.route(c, string(entities.ChannelTelegram), evt, err)
}

// route hands a parsed event to the message service and writes the webhook
// answer: 200 received/ignored, 404 unknown tenant, 400 malformed.
func (h *Handler) route(c *gin.Context, channel string, evt usecases.InboundEvent, parseErr error) {
	if parseErr == nil && evt.Channel != "" {
		channel = string(evt.Channel)
	}
	err := parseErr
	var res *usecases.InboundResult
	if err == nil {
		res, err = h.messages.HandleInbound(c.Request.Context(), evt)
	}
	metrics.InboundEvents.WithLabelValues(channel, outcome(err)).Inc()

	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "received", "session_id": res.Session.ID, "message_id": res.Message.ID})
	case errors.Is(err, entities.ErrNothingToRoute):
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	default:
		if statusFor(err) != http.StatusInternalServerError {
			logging.Warn().Err(err).Str("channel", channel).Msg("webhook rejected")
		}
		abortWith(c, err)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "routed"
	case errors.Is(err, entities.ErrNothingToRoute):
		return "ignored"
	case errors.Is(err, entities.ErrTenantNotFound):
		return "unknown_tenant"
	case errors.Is(err, entities.ErrMalformedPayload):
		return "malformed"
	}
	return "error"
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return nil, false
	}
	return body, true
}
