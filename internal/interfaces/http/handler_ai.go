package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"talk2chat/internal/entities"
)

type aiChatRequest struct {
	Message      string                   `json:"message" binding:"required"`
	History      []entities.PromptMessage `json:"history"`
	Instructions string                   `json:"instructions"`
	Provider     string                   `json:"provider"`
	Model        string                   `json:"modelName"`
	TenantID     *string                  `json:"tenant_id"`
}

// AIChat is the provider-agnostic completion endpoint. Callers bound to a
// tenant may only complete against their own tenant's settings.
func (h *Handler) AIChat(c *gin.Context) {
	var req aiChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	req.Message = CleanContent(req.Message)
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	claims := claimsFrom(c)
	tenantID := req.TenantID
	if tenantID == nil && claims != nil && claims.TenantID != nil {
		tenantID = claims.TenantID
	}
	if claims == nil || !claims.CanAccess(tenantID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	reply, err := h.ai.Complete(c.Request.Context(), entities.CompletionRequest{
		Message:      req.Message,
		History:      req.History,
		Instructions: req.Instructions,
		Provider:     strings.ToLower(strings.TrimSpace(req.Provider)),
		Model:        strings.TrimSpace(req.Model),
		TenantID:     tenantID,
	})
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			// Provider failures surface to the caller; nothing is stored or retried.
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": reply})
}
