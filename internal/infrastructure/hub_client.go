package infrastructure

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"talk2chat/internal/entities"
	"talk2chat/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var clientIDCounter atomic.Uint64

// clientMessage is what a viewer may send: ping, or a presence report.
type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type presenceReport struct {
	Status entities.PresenceStatus `json:"status"`
	Page   string                  `json:"page"`
	Typing string                  `json:"typing_session_id"`
}

// Client is one websocket viewer bound to a scope for its whole lifetime.
type Client struct {
	id    uint64
	hub   *Hub
	conn  *websocket.Conn
	scope entities.Scope
	send  chan entities.Event
	// pong is never closed, so the read side can signal without racing
	// the hub closing send.
	pong chan struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, scope entities.Scope) *Client {
	return &Client{
		id:    clientIDCounter.Add(1),
		hub:   hub,
		conn:  conn,
		scope: scope,
		send:  make(chan entities.Event, sendBuffer),
		pong:  make(chan struct{}, 1),
	}
}

func (c *Client) ID() uint64            { return c.id }
func (c *Client) Scope() entities.Scope { return c.scope }

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.Unregister <- c:
		case <-ctx.Done():
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn().Err(err).Uint64("client_id", c.id).Msg("unexpected websocket close")
			}
			return
		}

		switch msg.Type {
		case MessageTypePing:
			select {
			case c.pong <- struct{}{}:
			default:
			}
		case MessageTypePresence:
			var report presenceReport
			if err := json.Unmarshal(msg.Data, &report); err != nil {
				logging.Debug().Err(err).Msg("ignore malformed presence report")
				continue
			}
			switch report.Status {
			case "", entities.PresenceOnline, entities.PresenceAway:
				c.hub.updatePresence(ctx, c, report)
			default:
				logging.Debug().Str("status", string(report.Status)).Msg("ignore unknown presence status")
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(evt); err != nil {
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("write realtime event")
				return
			}

		case <-c.pong:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(entities.Event{Type: MessageTypePong, CreatedAt: time.Now()}); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start registers the client and runs its pumps. ctx bounds the hub's
// lifetime, not the connection's.
func (c *Client) Start(ctx context.Context) {
	select {
	case c.hub.Register <- c:
	case <-ctx.Done():
		_ = c.conn.Close()
		return
	}
	go c.writePump()
	go c.readPump(ctx)
}
