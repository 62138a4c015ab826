package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"chat-server/internal/metrics"
)

// Event is the envelope every outbound frame is wrapped in.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub is the broadcast gateway: it owns the set of live connections and
// the group (room) membership of each connection, and delivers events to
// one connection, one group, or everyone. All maps are mutex-guarded;
// group operations are called synchronously from the room service.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Client
	groups map[string]map[string]struct{}
	log    zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]*Client),
		groups: make(map[string]map[string]struct{}),
		log:    log,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
	metrics.ConnectionsActive.Inc()
}

// unregister drops the connection and every group binding it holds.
// Safe to call more than once for the same client. The send channel is
// never closed: deliveries snapshot their targets before sending, so a
// fan-out can race a disconnect. The done channel tells the write pump
// and any in-flight deliver to stand down instead.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.id]; !ok {
		return
	}
	delete(h.conns, c.id)
	for _, members := range h.groups {
		delete(members, c.id)
	}
	close(c.done)
	metrics.ConnectionsActive.Dec()
}

// AddToGroup binds a connection into a group's fan-out target.
func (h *Hub) AddToGroup(connID, groupID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[groupID]
	if !ok {
		members = make(map[string]struct{})
		h.groups[groupID] = members
	}
	members[connID] = struct{}{}
}

// RemoveFromGroup removes a connection from a group. Unknown pairs are a
// no-op.
func (h *Hub) RemoveFromGroup(connID, groupID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.groups[groupID]; ok {
		delete(members, connID)
	}
}

// SendToConnection delivers an event to one connection.
func (h *Hub) SendToConnection(ctx context.Context, connID, event string, payload any) error {
	data, err := json.Marshal(Event{Event: event, Data: payload})
	if err != nil {
		return err
	}

	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("connection %s is not registered", connID)
	}

	h.deliver(c, data)
	return nil
}

// SendToGroup delivers an event to every connection in the group, minus
// the excluded one. Delivery to each member is best-effort.
func (h *Hub) SendToGroup(ctx context.Context, groupID, event string, payload any, exceptConnID string) error {
	data, err := json.Marshal(Event{Event: event, Data: payload})
	if err != nil {
		return err
	}

	h.mu.RLock()
	var targets []*Client
	for connID := range h.groups[groupID] {
		if connID == exceptConnID {
			continue
		}
		if c, ok := h.conns[connID]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, data)
	}
	return nil
}

// Broadcast delivers an event to every open connection. Used for the
// global presence signals.
func (h *Hub) Broadcast(ctx context.Context, event string, payload any) {
	data, err := json.Marshal(Event{Event: event, Data: payload})
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("broadcast encode failed")
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, data)
	}
}

// deliver queues the frame on the client's send buffer. A client that
// can't keep up gets disconnected instead of blocking the hub; a client
// already unregistered is skipped.
func (h *Hub) deliver(c *Client, data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		metrics.BroadcastFailures.Inc()
		h.log.Warn().Str("conn", c.id).Msg("send buffer full, dropping client")
		h.unregister(c)
	}
}
