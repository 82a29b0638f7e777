package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"talk2chat/internal/entities"
	"talk2chat/internal/interfaces"
	"talk2chat/internal/logging"
	"talk2chat/internal/metrics"
)

const (
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
	MessageTypePresence = "presence"
	// MessageTypeSnapshot carries the presence list sent right after subscribe.
	MessageTypeSnapshot = "presence_snapshot"
)

// Hub keeps the connected inbox viewers grouped by topic and delivers each
// event only to the viewers of its tenant topic.
type Hub struct {
	topics     map[string]map[*Client]bool
	broadcast  chan entities.Event
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	presence *PresenceTracker
	pubMu    sync.RWMutex
	// publisher receives presence changes; defaults to the hub itself and
	// is swapped for the redis broker when one is configured.
	publisher interfaces.EventPublisher
}

func NewHub(presence *PresenceTracker) *Hub {
	if presence == nil {
		presence = NewPresenceTracker()
	}
	h := &Hub{
		topics:     make(map[string]map[*Client]bool),
		broadcast:  make(chan entities.Event, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		presence:   presence,
	}
	h.publisher = h
	return h
}

var _ interfaces.EventPublisher = (*Hub)(nil)

func (h *Hub) SetPublisher(p interfaces.EventPublisher) {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	h.publisher = p
}

func (h *Hub) publish(ctx context.Context, evt entities.Event) {
	h.pubMu.RLock()
	p := h.publisher
	h.pubMu.RUnlock()
	p.Publish(ctx, evt)
}

func (h *Hub) Presence() *PresenceTracker { return h.presence }

// Publish queues evt for local delivery. It never blocks; a full queue
// drops the event.
func (h *Hub) Publish(_ context.Context, evt entities.Event) {
	select {
	case h.broadcast <- evt:
	default:
		metrics.RealtimeDropped.WithLabelValues("hub_full").Inc()
		logging.Warn().Str("event", string(evt.Type)).Str("id", evt.ID).Msg("broadcast channel full, dropping event")
	}
}

// RunWithContext serves registrations and deliveries until ctx is done,
// then closes every client.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Lifecycle events first so a freshly registered client sees
		// everything published after its registration.
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case c := <-h.Register:
			h.add(c)
			continue
		case c := <-h.Unregister:
			h.remove(ctx, c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case c := <-h.Register:
			h.add(c)
		case c := <-h.Unregister:
			h.remove(ctx, c)
		case evt := <-h.broadcast:
			h.deliver(evt)
		}
	}
}

func (h *Hub) add(c *Client) {
	topic := TopicFor(c.scope.TenantID)
	h.mu.Lock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Client]bool)
	}
	h.topics[topic][c] = true
	h.mu.Unlock()

	metrics.RealtimeClients.Inc()
	logging.Info().Str("topic", topic).Str("user_id", c.scope.UserID).Int("total_clients", h.ClientCount()).Msg("realtime client connected")

	// Snapshot is best effort; the client buffer is empty at this point.
	select {
	case c.send <- entities.Event{Type: MessageTypeSnapshot, TenantID: c.scope.TenantID, Data: h.presence.List(c.scope), CreatedAt: time.Now()}:
	default:
	}
}

func (h *Hub) detach(c *Client) bool {
	topic := TopicFor(c.scope.TenantID)
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.topics[topic]
	if !ok || !clients[c] {
		return false
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.topics, topic)
	}
	close(c.send)
	metrics.RealtimeClients.Dec()
	return true
}

func (h *Hub) remove(ctx context.Context, c *Client) {
	if h.detach(c) {
		logging.Info().Str("user_id", c.scope.UserID).Int("total_clients", h.ClientCount()).Msg("realtime client disconnected")
	}
	if c.scope.UserID == "" || h.viewerConnected(c.scope.UserID) {
		return
	}
	if entry, ok := h.presence.Remove(c.scope.UserID); ok {
		h.publish(ctx, entities.PresenceEvent(&entry))
	}
}

func (h *Hub) viewerConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.topics {
		for c := range clients {
			if c.scope.UserID == userID {
				return true
			}
		}
	}
	return false
}

// deliver sends evt to its topic in client id order. Every delivery is
// re-checked against the client's scope.
func (h *Hub) deliver(evt entities.Event) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.topics[TopicFor(evt.TenantID)]))
	for c := range h.topics[TopicFor(evt.TenantID)] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var slow []*Client
	for _, c := range clients {
		if !c.scope.Allows(evt) {
			metrics.RealtimeDropped.WithLabelValues("out_of_scope").Inc()
			logging.Error().Str("event", string(evt.Type)).Str("scope", c.scope.String()).Msg("out-of-scope event reached topic")
			continue
		}
		select {
		case c.send <- evt:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		metrics.RealtimeDropped.WithLabelValues("slow_client").Inc()
		h.detach(c)
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for topic, clients := range h.topics {
		for c := range clients {
			close(c.send)
			n++
		}
		delete(h.topics, topic)
	}
	metrics.RealtimeClients.Sub(float64(n))
	logging.Info().Str("component", "realtime-hub").Int("clients_closed", n).Msg("realtime hub stopped")
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.topics {
		n += len(clients)
	}
	return n
}

// updatePresence records a viewer's presence report and announces it.
func (h *Hub) updatePresence(ctx context.Context, c *Client, report presenceReport) {
	if c.scope.UserID == "" {
		return
	}
	entry := h.presence.Update(entities.PresenceEntry{
		UserID:   c.scope.UserID,
		TenantID: c.scope.TenantID,
		Status:   report.Status,
		Page:     report.Page,
		Typing:   report.Typing,
	})
	h.publish(ctx, entities.PresenceEvent(&entry))
}
