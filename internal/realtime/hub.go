// internal/realtime/hub.go
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/emprendedores-unidos/marketplace/internal/metrics"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

var ErrHubClosed = errors.New("realtime: hub closed")

func UserRoom(userID uuid.UUID) string {
	return "user:" + userID.String()
}

// ConversationRoom is the same for both argument orders.
func ConversationRoom(a, b uuid.UUID) string {
	lo, hi := utils.CanonicalPair(a, b)
	return fmt.Sprintf("conversation:%s:%s", lo, hi)
}

// Hub is the process wide registry of live connections and the rooms they
// joined. Membership only lives in memory.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	closed  bool

	metrics *metrics.Metrics
	logger  *logrus.Entry
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		metrics: m,
		logger:  logrus.WithField("component", "realtime"),
	}
}

// Register adds the client and joins it to its private user room.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	h.clients[c] = struct{}{}
	h.joinLocked(c, UserRoom(c.userID))
	h.metrics.RecordConnectionOpened()

	h.logger.WithFields(logrus.Fields{
		"user_id": c.userID,
		"clients": len(h.clients),
	}).Debug("Client connected")
	return nil
}

// Unregister removes the client from every room. Calling it twice is harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	h.mu.Unlock()

	c.close()
	h.metrics.RecordConnectionClosed()
	h.logger.WithField("user_id", c.userID).Debug("Client disconnected")
}

func (h *Hub) JoinRoom(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	h.joinLocked(c, room)
}

func (h *Hub) joinLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// EmitToRoom sends the event to every member except the given client (which
// may be nil) and returns how many connections accepted it.
func (h *Hub) EmitToRoom(room, event string, payload interface{}, except *Client) int {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.WithError(err).WithField("event", event).Error("Failed to encode event")
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(frame) {
			delivered++
		} else {
			go h.Unregister(c)
		}
	}
	return delivered
}

// SendToUser delivers to every live connection of the user.
func (h *Hub) SendToUser(userID uuid.UUID, event string, payload interface{}) int {
	return h.EmitToRoom(UserRoom(userID), event, payload, nil)
}

func (h *Hub) IsOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[UserRoom(userID)]) > 0
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close disconnects every client and refuses new registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.Unregister(c)
	}
	h.logger.WithField("clients", len(clients)).Info("Realtime hub closed")
}

func encodeFrame(event string, payload interface{}) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Event: event, Data: payload})
}
