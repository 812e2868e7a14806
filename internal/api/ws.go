package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"ridequeue/internal/events"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512
	clientBuffer   = 256

	messageQueueSnapshot = "queue_snapshot"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Access is checked by the API key and actor middleware before upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// feedMessage is one frame of the live queue feed.
type feedMessage struct {
	ID        int64           `json:"id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Hub fans queue events out to connected websocket clients.
type Hub struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	done       chan struct{}

	mu     sync.RWMutex
	logger zerolog.Logger
}

type wsClient struct {
	hub      *Hub
	conn     *websocket.Conn
	username string
	send     chan []byte
	// first is written before anything queued on send.
	first []byte
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, clientBuffer),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "ws_hub").Logger(),
	}
}

// Attach forwards every queue event to the hub.
func (h *Hub) Attach(bus *events.EventBus) {
	bus.SubscribeAll(h.HandleEvent)
}

// HandleEvent is an events.EventHandler. It never blocks the publisher: when
// the broadcast buffer is full the event is dropped for all clients.
func (h *Hub) HandleEvent(event *events.Event) error {
	msg, err := json.Marshal(feedMessage{
		ID:        event.ID,
		Type:      event.Type,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt,
	})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn().Str("event_type", event.Type).Msg("ws broadcast buffer full, event dropped")
	}
	return nil
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug().Str("username", client.username).Msg("ws client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// slow consumer
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Clients only listen; reads detect disconnects.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Str("username", c.username).Msg("ws read error")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	if c.first != nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, c.first); err != nil {
			return
		}
	}

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// snapshotFunc renders the frame a new client receives first.
type snapshotFunc func(ctx context.Context) ([]byte, error)

// serveWS upgrades the request and registers the client before taking the
// snapshot, so events published meanwhile queue up behind it instead of
// being lost. A client may see such an event twice.
func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request, username string, snapshot snapshotFunc) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade error")
		return
	}

	client := &wsClient{
		hub:      h,
		conn:     conn,
		username: username,
		send:     make(chan []byte, clientBuffer),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	if snapshot != nil {
		frame, err := snapshot(r.Context())
		if err != nil {
			h.logger.Error().Err(err).Str("username", username).Msg("ws snapshot failed")
			select {
			case h.unregister <- client:
			case <-h.done:
			}
			// send is closed now, so writePump says goodbye and exits.
			go client.writePump()
			return
		}
		client.first = frame
	}

	go client.writePump()
	go client.readPump()
}
