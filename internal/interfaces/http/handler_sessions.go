package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"talk2chat/internal/entities"
	"talk2chat/internal/usecases"
)

// authorizedSession loads :id and checks the caller may act on it. It
// writes the error response itself and returns nil on failure.
func (h *Handler) authorizedSession(c *gin.Context) *entities.ChatSession {
	id := c.Param("id")
	if !ValidID(id) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid session ID"})
		return nil
	}
	sess, err := h.messages.Session(c.Request.Context(), id)
	if err != nil {
		abortWith(c, err)
		return nil
	}
	if claims := claimsFrom(c); claims == nil || !claims.CanAccess(sess.TenantID) {
		// Sessions of other tenants do not exist for this caller.
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": entities.ErrSessionNotFound.Error()})
		return nil
	}
	return sess
}

// GetMessages returns the session history, oldest first.
func (h *Handler) GetMessages(c *gin.Context) {
	sess := h.authorizedSession(c)
	if sess == nil {
		return
	}
	limit := usecases.DefaultHistoryPage
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}
	msgs, err := h.messages.History(c.Request.Context(), sess.ID, limit)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "messages": msgs})
}

// PostMessage stores an agent reply and relays it to the visitor's channel.
// A failed relay still leaves the message stored.
func (h *Handler) PostMessage(c *gin.Context) {
	sess := h.authorizedSession(c)
	if sess == nil {
		return
	}
	var payload struct {
		Content    string `json:"content" binding:"required"`
		SenderName string `json:"sender_name"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	claims := claimsFrom(c)
	name := TruncateString(SanitizeString(payload.SenderName), MaxNameLength)
	msg, res, err := h.messages.PostAgentMessage(c.Request.Context(), sess.ID, claims.UserID, name, CleanContent(payload.Content))
	if err != nil && msg == nil {
		abortWith(c, err)
		return
	}
	if err != nil {
		c.JSON(relayStatus(res, err), gin.H{"message": msg, "delivery": res, "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg, "delivery": res})
}

// UpdateStatus moves the session through its lifecycle
func (h *Handler) UpdateStatus(c *gin.Context) {
	sess := h.authorizedSession(c)
	if sess == nil {
		return
	}
	var payload struct {
		Status entities.SessionStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil || !payload.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
		return
	}
	updated, err := h.messages.SetStatus(c.Request.Context(), sess.ID, payload.Status)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// UpdateAssignment hands the session to an agent; a null agent_id returns
// it to the AI.
func (h *Handler) UpdateAssignment(c *gin.Context) {
	sess := h.authorizedSession(c)
	if sess == nil {
		return
	}
	var payload struct {
		AgentID *string `json:"agent_id"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if payload.AgentID != nil && *payload.AgentID != "" && !ValidID(*payload.AgentID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid agent ID"})
		return
	}
	updated, err := h.messages.Assign(c.Request.Context(), sess.ID, payload.AgentID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) UpdateTags(c *gin.Context) {
	sess := h.authorizedSession(c)
	if sess == nil {
		return
	}
	var payload struct {
		Tags []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	for i, t := range payload.Tags {
		payload.Tags[i] = TruncateString(SanitizeString(t), MaxNameLength)
	}
	updated, err := h.messages.SetTags(c.Request.Context(), sess.ID, payload.Tags)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Dispatch relays a message record inserted by another writer. It accepts
// {"message_id": ...} or a database webhook envelope {"record": {"id": ...}}.
func (h *Handler) Dispatch(c *gin.Context) {
	var payload struct {
		MessageID string `json:"message_id"`
		Record    *struct {
			ID string `json:"id"`
		} `json:"record"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	id := payload.MessageID
	if id == "" && payload.Record != nil {
		id = payload.Record.ID
	}
	if !ValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_id is required"})
		return
	}

	res, err := h.messages.DispatchStored(c.Request.Context(), id)
	if err != nil && res.Status == entities.DeliveryFailed {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "delivery": res})
		return
	}
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// relayStatus is 502 for any recorded delivery failure.
func relayStatus(res usecases.DispatchResult, err error) int {
	if res.Status == entities.DeliveryFailed {
		return http.StatusBadGateway
	}
	return statusFor(err)
}

// SaveConfig replaces a tenant's widget config. A missing tenant_id writes
// the global record. Secrets are never echoed back.
func (h *Handler) SaveConfig(c *gin.Context) {
	if h.configs == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "config writes are not enabled"})
		return
	}
	var payload struct {
		TenantID     *string               `json:"tenant_id"`
		Integrations entities.Integrations `json:"integrations"`
		AI           entities.AISettings   `json:"ai"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if payload.TenantID != nil && !ValidID(*payload.TenantID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tenant ID"})
		return
	}

	cfg := &entities.WidgetConfig{TenantID: payload.TenantID, Integrations: payload.Integrations, AI: payload.AI}
	if err := h.configs.Save(c.Request.Context(), cfg); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": cfg.ID, "tenant_id": cfg.TenantID})
}
