// Package ws pushes opportunity, metric, feed-status and market-data
// snapshots to dashboard clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/syntharb/internal/server/middleware"
)

const inboxSize = 256

// Config controls origin checks and the greeting sent on connect.
type Config struct {
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string
	// Status builds the payload of the greeting frame. Optional.
	Status func() any
}

type publication struct {
	topic string
	frame []byte
}

type request struct {
	client *client
	msg    controlMsg
}

// Hub owns the set of dashboards. All membership, subscription and replay
// state changes happen on the Run goroutine.
type Hub struct {
	clients  map[*client]struct{}
	inbox    chan publication
	joins    chan *client
	leaves   chan *client
	requests chan request
	done     chan struct{}
	mu       sync.RWMutex

	latest   map[string][]byte
	upgrader websocket.Upgrader
	status   func() any
	dropped  atomic.Int64
	evicted  atomic.Int64
	logger   *slog.Logger
}

// NewHub creates a hub. Call Run before serving HandleWS.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	policy := middleware.NewOriginPolicy(cfg.AllowedOrigins)
	return &Hub{
		clients:  make(map[*client]struct{}),
		inbox:    make(chan publication, inboxSize),
		joins:    make(chan *client),
		leaves:   make(chan *client),
		requests: make(chan request),
		done:     make(chan struct{}),
		latest:   make(map[string][]byte),
		status:   cfg.Status,
		logger:   logger.With(slog.String("component", "ws_hub")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return policy.Allows(r.Header.Get("Origin"))
			},
		},
	}
}

// Broadcast queues frame for dashboards subscribed to topic. It never
// blocks; a full inbox drops the frame and counts it.
func (h *Hub) Broadcast(topic string, frame []byte) {
	select {
	case h.inbox <- publication{topic: topic, frame: frame}:
	default:
		h.dropped.Add(1)
	}
}

// Dropped returns how many publications were discarded before fan-out.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Evicted returns how many dashboards were disconnected for falling behind.
func (h *Hub) Evicted() int64 { return h.evicted.Load() }

// Run serves the hub until ctx is cancelled, then closes every dashboard.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.joins:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.replay(c, defaultTopics)
			h.logger.Info("dashboard connected", slog.Int("clients", n))

		case c := <-h.leaves:
			h.mu.Lock()
			_, ok := h.clients[c]
			if ok {
				h.drop(c)
			}
			n := len(h.clients)
			h.mu.Unlock()
			if ok {
				h.logger.Info("dashboard disconnected", slog.Int("clients", n))
			}

		case req := <-h.requests:
			h.handle(req)

		case pub := <-h.inbox:
			if isSnapshotTopic(pub.topic) {
				h.latest[pub.topic] = pub.frame
			}
			h.fanOut(pub)
		}
	}
}

func (h *Hub) fanOut(pub publication) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.isSubscribed(pub.topic) || c.offer(pub.frame) {
			continue
		}
		if c.misses >= slowClientLimit {
			h.drop(c)
			h.evicted.Add(1)
			h.logger.Warn("evicting slow dashboard",
				slog.String("topic", pub.topic),
				slog.Int("missed", c.misses),
			)
		}
	}
}

// drop removes c and closes its outbox. Callers hold h.mu.
func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.outbox)
}

func (h *Hub) handle(req request) {
	h.mu.RLock()
	_, live := h.clients[req.client]
	h.mu.RUnlock()
	if !live {
		return
	}

	switch req.msg.Action {
	case actionPing:
		if frame, err := json.Marshal(map[string]string{"type": "pong"}); err == nil {
			req.client.offer(frame)
		}
	case actionSubscribe, actionUnsubscribe:
		if added := req.client.apply(req.msg); len(added) > 0 {
			h.replay(req.client, added)
		}
	default:
		h.logger.Debug("ignoring control frame", slog.String("action", req.msg.Action))
	}
}

// replay sends the newest snapshot of each snapshot topic selected by
// patterns so a new subscriber does not wait for the next publish.
func (h *Hub) replay(c *client, patterns []string) {
	for _, topic := range expand(patterns) {
		if frame, ok := h.latest[topic]; ok {
			c.offer(frame)
		}
	}
}

// HandleWS upgrades the request and attaches the dashboard to the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		outbox: make(chan []byte, outboxSize),
		subs:   newTopicSet(defaultTopics...),
	}
	// The greeting is queued before the hub sees the client so it is always
	// the first frame, ahead of any replayed snapshot.
	if greeting, err := h.greeting(); err == nil {
		c.offer(greeting)
	}

	select {
	case h.joins <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writeLoop()
	go c.readLoop()
}

func (h *Hub) greeting() ([]byte, error) {
	var payload any = map[string]any{}
	if h.status != nil {
		payload = h.status()
	}
	return json.Marshal(map[string]any{"type": "status", "payload": payload})
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
