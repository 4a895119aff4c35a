package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/distconv/distconv/internal/events"
)

// Wire event names pushed to socket clients.
const (
	wireTaskUpdate  = "task_update"  // per-task subscription
	wireTasksUpdate = "tasks_update" // tasks_room firehose
)

// clientMessage is what subscribers send over the socket.
type clientMessage struct {
	Op     string `json:"op"` // subscribe | unsubscribe
	TaskID string `json:"task_id,omitempty"`
	Room   string `json:"room,omitempty"`
}

// serverMessage is what the coordinator pushes.
type serverMessage struct {
	Event   string            `json:"event"`
	Payload events.Descriptor `json:"payload"`
}

// SocketHandler serves the bidirectional realtime channel at /socket.
type SocketHandler struct {
	bus          *events.Bus
	pingInterval time.Duration
	pongTimeout  time.Duration
	upgrader     websocket.Upgrader
	logger       *slog.Logger
}

// NewSocketHandler creates a socket handler.
func NewSocketHandler(bus *events.Bus, pingInterval, pongTimeout time.Duration, logger *slog.Logger) *SocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketHandler{
		bus:          bus,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Workers and the web UI connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// RegisterRoutes mounts the socket endpoint on the raw router; the upgrade
// handshake does not go through the typed API layer.
func (h *SocketHandler) RegisterRoutes(router *chi.Mux) {
	router.Get("/socket", h.ServeHTTP)
}

// ServeHTTP upgrades the connection and runs the read and write pumps.
func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := &socketClient{
		handler: h,
		conn:    conn,
		out:     make(chan serverMessage, 32),
		subs:    make(map[string]*events.Subscription),
		done:    make(chan struct{}),
	}

	go client.writePump()
	client.readPump()
}

// socketClient is one connected subscriber.
type socketClient struct {
	handler *SocketHandler
	conn    *websocket.Conn
	out     chan serverMessage

	mu   sync.Mutex
	subs map[string]*events.Subscription

	done     chan struct{}
	doneOnce sync.Once
}

// close tears down every subscription and signals both pumps.
func (c *socketClient) close() {
	c.doneOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		for _, sub := range c.subs {
			sub.Close()
		}
		c.subs = map[string]*events.Subscription{}
		c.mu.Unlock()
		_ = c.conn.Close()
	})
}

// readPump consumes subscribe/unsubscribe messages and pong frames until
// the peer goes away.
func (c *socketClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.handler.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.handler.pongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.handler.logger.Debug("ignoring malformed socket message", slog.String("error", err.Error()))
			continue
		}

		topic, event := resolveTopic(msg)
		if topic == "" {
			continue
		}

		switch msg.Op {
		case "subscribe":
			c.subscribe(topic, event)
		case "unsubscribe":
			c.unsubscribe(topic)
		}
	}
}

// resolveTopic maps a client message onto a bus topic and wire event name.
func resolveTopic(msg clientMessage) (topic, event string) {
	if msg.Room == events.TopicTasksRoom {
		return events.TopicTasksRoom, wireTasksUpdate
	}
	if msg.TaskID != "" {
		return events.TopicTask(msg.TaskID), wireTaskUpdate
	}
	return "", ""
}

// subscribe attaches a bus subscription and forwards its events out.
func (c *socketClient) subscribe(topic, event string) {
	c.mu.Lock()
	if _, exists := c.subs[topic]; exists {
		c.mu.Unlock()
		return
	}
	sub := c.handler.bus.Subscribe(topic)
	c.subs[topic] = sub
	c.mu.Unlock()

	go func() {
		for e := range sub.C() {
			select {
			case c.out <- serverMessage{Event: event, Payload: e.Task}:
			case <-c.done:
				return
			}
		}
	}()
}

// unsubscribe detaches a topic.
func (c *socketClient) unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, exists := c.subs[topic]; exists {
		sub.Close()
		delete(c.subs, topic)
	}
}

// writePump pushes events and keepalive pings.
func (c *socketClient) writePump() {
	ticker := time.NewTicker(c.handler.pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.handler.pongTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.handler.pongTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
