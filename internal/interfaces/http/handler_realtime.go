package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"talk2chat/internal/entities"
	"talk2chat/internal/infrastructure"
	"talk2chat/internal/logging"
)

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkOrigin admits browsers from the configured origins. Clients that
// send no Origin are not browsers and authenticate with their token alone.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	logging.Warn().Str("origin", TruncateString(origin, 200)).Msg("realtime connection rejected from unauthorized origin")
	return false
}

// Realtime upgrades to a websocket bound to the viewer's scope. The scope is
// resolved once from the viewer's profile; service callers watch globally.
func (h *Handler) Realtime(c *gin.Context) {
	claims := claimsFrom(c)
	if claims == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var scope entities.Scope
	if claims.Role == entities.RoleService {
		scope = entities.GlobalScope()
		scope.UserID = claims.UserID
	} else {
		var err error
		scope, err = h.fanout.ScopeFor(c.Request.Context(), claims.UserID)
		if errors.Is(err, entities.ErrProfileNotFound) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "No inbox profile for this user"})
			return
		}
		if err != nil {
			abortWith(c, err)
			return
		}
	}

	up := h.upgrader()
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Warn().Err(err).Str("user_id", claims.UserID).Msg("realtime upgrade failed")
		return
	}
	logging.Info().Str("user_id", claims.UserID).Str("scope", scope.String()).Msg("realtime viewer connected")
	infrastructure.NewClient(h.hub, conn, scope).Start(h.baseCtx)
}
