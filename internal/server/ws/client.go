package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxControlSize = 4096

	// outboxSize bounds the frames queued for one dashboard.
	outboxSize = 256
	// slowClientLimit is how many consecutive frames a client may miss
	// before the hub disconnects it.
	slowClientLimit = 64
)

// Control actions a dashboard may send.
const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionPing        = "ping"
)

// controlMsg is the JSON frame a dashboard sends to manage its topics.
type controlMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels,omitempty"`
}

// client is one connected dashboard. subs is written by the hub loop and
// read by tests and the loop; mu guards it.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	outbox chan []byte
	subs   topicSet
	misses int // consecutive frames dropped, owned by the hub loop
	mu     sync.RWMutex
}

func (c *client) isSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs.matches(topic)
}

// offer queues a frame without blocking and reports whether it fit.
func (c *client) offer(frame []byte) bool {
	select {
	case c.outbox <- frame:
		c.misses = 0
		return true
	default:
		c.misses++
		return false
	}
}

// apply changes the subscription and returns the topics newly added.
func (c *client) apply(msg controlMsg) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var added []string
	for _, ch := range msg.Channels {
		switch msg.Action {
		case actionSubscribe:
			if c.subs.add(ch) {
				added = append(added, ch)
			}
		case actionUnsubscribe:
			c.subs.remove(ch)
		}
	}
	return added
}

// readLoop forwards control frames to the hub until the connection fails.
func (c *client) readLoop() {
	defer func() {
		select {
		case c.hub.leaves <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxControlSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("dashboard read failed", slog.String("error", err.Error()))
			}
			return
		}

		var msg controlMsg
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Action == "" {
			continue
		}
		select {
		case c.hub.requests <- request{client: c, msg: msg}:
		case <-c.hub.done:
			return
		}
	}
}

// writeLoop drains the outbox onto the socket and keeps the link alive with
// pings. A closed outbox means the hub has dropped this client.
func (c *client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.outbox:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
