package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"talk2chat/internal/entities"
	"talk2chat/internal/infrastructure"
	"talk2chat/internal/interfaces"
	"talk2chat/internal/logging"
	"talk2chat/internal/usecases"
)

type Handler struct {
	messages  *usecases.MessageService
	ai        *usecases.AIService
	fanout    *usecases.FanoutFilter
	configs   *usecases.ConfigService
	directory interfaces.TenantDirectory
	hub       *infrastructure.Hub

	metaVerifyToken string
	metaAppSecret   string
	origins         []string
	// baseCtx bounds realtime connections; it is canceled on shutdown.
	baseCtx context.Context
}

type HandlerDeps struct {
	Messages        *usecases.MessageService
	AI              *usecases.AIService
	Fanout          *usecases.FanoutFilter
	Configs         *usecases.ConfigService
	Directory       interfaces.TenantDirectory
	Hub             *infrastructure.Hub
	MetaVerifyToken string
	MetaAppSecret   string
	Origins         []string
	BaseContext     context.Context
}

func NewHandler(d HandlerDeps) *Handler {
	ctx := d.BaseContext
	if ctx == nil {
		ctx = context.Background()
	}
	return &Handler{
		messages:        d.Messages,
		ai:              d.AI,
		fanout:          d.Fanout,
		configs:         d.Configs,
		directory:       d.Directory,
		hub:             d.Hub,
		metaVerifyToken: d.MetaVerifyToken,
		metaAppSecret:   d.MetaAppSecret,
		origins:         d.Origins,
		baseCtx:         ctx,
	}
}

func SetupRoutes(r *gin.Engine, h *Handler, middleware *Middleware, webhookLimiter *infrastructure.MessageRateLimiter) {
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(MaxBodyBytes))
	r.Use(middleware.CORSMiddleware())

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public webhooks
	webhooks := r.Group("/webhook")
	webhooks.Use(middleware.RateLimitPerClient(webhookLimiter))
	{
		webhooks.GET("/meta", h.VerifyMeta)
		webhooks.POST("/meta", h.HandleMeta)
		webhooks.POST("/email", h.HandleEmail)
		webhooks.POST("/web", h.HandleWeb)
		webhooks.POST("/telegram/:key", h.HandleTelegram)
	}

	api := r.Group("/api")
	api.Use(middleware.AuthRequired())
	{
		api.POST("/ai/chat", middleware.RateLimitPerClient(webhookLimiter), h.AIChat)

		sessions := api.Group("/sessions/:id")
		{
			sessions.GET("/messages", h.GetMessages)
			sessions.POST("/messages", h.PostMessage)
			sessions.PUT("/status", h.UpdateStatus)
			sessions.PUT("/assign", h.UpdateAssignment)
			sessions.PUT("/tags", h.UpdateTags)
		}

		api.GET("/realtime", h.Realtime)
	}

	internal := r.Group("/internal")
	internal.Use(middleware.AuthRequired(), middleware.ServiceRequired())
	{
		internal.POST("/dispatch", h.Dispatch)
		internal.PUT("/configs", h.SaveConfig)
	}
}

func (h *Handler) Health(c *gin.Context) {
	clients := 0
	if h.hub != nil {
		clients = h.hub.ClientCount()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "realtime_clients": clients})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var relayErr *entities.RelayError
	switch {
	case errors.Is(err, entities.ErrTenantNotFound),
		errors.Is(err, entities.ErrSessionNotFound),
		errors.Is(err, entities.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, entities.ErrMalformedPayload),
		errors.Is(err, entities.ErrNothingToRoute),
		errors.Is(err, entities.ErrNoAPIKey),
		errors.Is(err, entities.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, entities.ErrInvalidTransition),
		errors.Is(err, entities.ErrAccountClaimed):
		return http.StatusConflict
	case errors.As(err, &relayErr),
		errors.Is(err, entities.ErrNoRelay),
		errors.Is(err, entities.ErrMissingCredential),
		errors.Is(err, entities.ErrCircuitOpen):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// abortWith writes err as {"error": ...}; internal errors are logged and
// not echoed.
func abortWith(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
