// internal/realtime/client.go
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/emprendedores-unidos/marketplace/internal/config"
)

// Client is one websocket connection. A user may hold several.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID uuid.UUID
	cfg    config.RealtimeConfig
	logger *logrus.Entry

	send chan []byte

	// rooms is guarded by hub.mu
	rooms map[string]struct{}

	mu     sync.Mutex
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, cfg config.RealtimeConfig) *Client {
	size := cfg.SendBufferSize
	if size <= 0 {
		size = 64
	}
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		cfg:    cfg,
		send:   make(chan []byte, size),
		rooms:  make(map[string]struct{}),
		logger: hub.logger.WithField("user_id", userID),
	}
}

func (c *Client) UserID() uuid.UUID {
	return c.userID
}

// Emit sends an event to this connection only.
func (c *Client) Emit(event string, payload interface{}) bool {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		c.logger.WithError(err).WithField("event", event).Error("Failed to encode event")
		return false
	}
	if !c.enqueue(frame) {
		go c.hub.Unregister(c)
		return false
	}
	return true
}

// enqueue never blocks. A full queue means the peer is not reading, so the
// connection is closed instead of stalling every sender.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("Send queue full, dropping connection")
		c.closed = true
		close(c.send)
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump(ctx context.Context, router *EventRouter) {
	defer c.hub.Unregister(c)

	if c.cfg.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(c.cfg.MaxMessageBytes)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("Websocket read failed")
			}
			return
		}
		router.Dispatch(ctx, c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
