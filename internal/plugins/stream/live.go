package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/activitylog/internal/record"
)

const (
	// Time allowed to write a message to the peer.
	liveWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	livePongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than livePongWait.
	livePingPeriod = (livePongWait * 9) / 10

	// Clients only send control frames.
	liveMaxMessageSize = 512

	// Records buffered per client before it is considered too slow.
	liveSendBuffer = 64
)

// liveUpgrader keeps gorilla's same-origin check.
var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// LiveHub pushes stored records to websocket subscribers. It is a
// Publisher, so the sink feeds it after every successful append. Clients
// that fall behind are disconnected rather than slowing down appends.
type LiveHub struct {
	mu      sync.RWMutex
	clients map[*liveClient]struct{}
	closed  bool
}

// liveClient is one websocket subscriber and its filter.
type liveClient struct {
	hub    *LiveHub
	conn   *websocket.Conn
	filter Filter
	send   chan []byte
	once   sync.Once
}

// NewLiveHub creates an empty hub.
func NewLiveHub() *LiveHub {
	return &LiveHub{clients: make(map[*liveClient]struct{})}
}

// Publish sends rec to every client whose filter matches.
func (h *LiveHub) Publish(ctx context.Context, rec *record.Record) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record %d: %w", rec.ID, err)
	}

	for c := range h.clients {
		if !c.filter.matches(*rec) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slog.Warn("live client too slow, disconnecting",
				slog.String("remote_addr", c.conn.RemoteAddr().String()),
			)
			c.disconnect()
		}
	}
	return nil
}

// Clients returns the number of connected subscribers.
func (h *LiveHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *LiveHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.disconnect()
	}
}

func (h *LiveHub) add(c *liveClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *LiveHub) remove(c *liveClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Serve upgrades the request and streams matching records until the client
// goes away. It accepts the connector, context, action, object_id and
// actor_id filters of the list endpoint.
// GET /api/v1/records/live
func (h *LiveHub) Serve(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	f.Since, f.Until = time.Time{}, time.Time{}

	conn, err := liveUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already wrote the error response.
		slog.Debug("live upgrade failed", slog.Any("error", err))
		return nil
	}

	client := &liveClient{
		hub:    h,
		conn:   conn,
		filter: f,
		send:   make(chan []byte, liveSendBuffer),
	}
	if !h.add(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(liveWriteWait))
		return conn.Close()
	}

	go client.writePump()
	client.readPump()
	return nil
}

// disconnect closes the connection once. The read pump then exits and
// removes the client.
func (c *liveClient) disconnect() {
	c.once.Do(func() {
		_ = c.conn.Close()
	})
}

// readPump discards client frames and keeps the read deadline fresh. It
// returns when the connection fails or closes.
func (c *liveClient) readPump() {
	defer func() {
		c.hub.remove(c)
		close(c.send)
		c.disconnect()
	}()

	c.conn.SetReadLimit(liveMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(livePongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(livePongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("live client closed", slog.Any("error", err))
			}
			return
		}
	}
}

// writePump is the only writer on the connection.
func (c *liveClient) writePump() {
	ticker := time.NewTicker(livePingPeriod)
	defer func() {
		ticker.Stop()
		c.disconnect()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
