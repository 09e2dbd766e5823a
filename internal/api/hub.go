package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"postflow/internal/logging"
	"postflow/internal/project"
)

const (
	hubWriteTimeout  = 5 * time.Second
	hubSendBuffer    = 32
	hubPingInterval  = 30 * time.Second
	hubPongWait      = 60 * time.Second
	hubMaxMessageLen = 512
)

// Hub fans committed project events out to websocket subscribers. Slow
// subscribers are dropped rather than allowed to block the writer.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	conn *websocket.Conn
	send chan EventView
}

// NewHub constructs an event hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		logger: logger.With(logging.String(logging.FieldComponent, "event-hub")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// Broadcast delivers events to every connected subscriber. Safe to call from
// any goroutine; callers are never blocked.
func (h *Hub) Broadcast(events []project.Event) {
	if len(events) == 0 {
		return
	}
	views := fromEvents(events)

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		for _, view := range views {
			select {
			case client.send <- view:
			default:
				// Subscriber cannot keep up; disconnect it.
				delete(h.clients, client)
				close(client.send)
			}
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	client := &hubClient{
		conn: conn,
		send: make(chan EventView, hubSendBuffer),
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(client)
	h.readLoop(client)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) writeLoop(client *hubClient) {
	ticker := time.NewTicker(hubPingInterval)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case view, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(hubWriteTimeout))
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := client.conn.WriteJSON(view); err != nil {
				h.drop(client)
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(client)
				return
			}
		}
	}
}

// readLoop drains control frames so pings and close handshakes are handled.
func (h *Hub) readLoop(client *hubClient) {
	client.conn.SetReadLimit(hubMaxMessageLen)
	_ = client.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.drop(client)
			return
		}
	}
}

func (h *Hub) drop(client *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	_ = client.conn.Close()
}
