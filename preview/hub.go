// Package preview streams the fluid surface to browser clients over websockets.
package preview

import (
	"bytes"
	"image/png"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pthm-cable/fluidsurface/gpu"
)

// DefaultWriteWait bounds a single write to one client. A client that
// cannot take a message in time is dropped.
const DefaultWriteWait = 2 * time.Second

// Stats is the JSON message sent alongside frames.
type Stats struct {
	Type     string  `json:"type"`
	Frame    uint64  `json:"frame"`
	SimTime  float64 `json:"sim_time"`
	Density  float64 `json:"density"`
	MaxSpeed float64 `json:"max_speed"`
}

// Hub tracks connected clients and broadcasts surface frames as PNG images
// in binary messages. Each connection has its own write lock; the client set
// is guarded separately.
type Hub struct {
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	writeWait time.Duration

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*sync.Mutex

	lastMu sync.Mutex
	last   []byte // Most recent encoded frame, sent to new clients
}

// NewHub creates a hub. Origins are not checked.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:    logger,
		writeWait: DefaultWriteWait,
		clients:   make(map[*websocket.Conn]*sync.Mutex),
	}
}

// SetWriteWait changes the per-write deadline. Call it before serving.
func (h *Hub) SetWriteWait(d time.Duration) {
	if d > 0 {
		h.writeWait = d
	}
}

// write sends one message with the write deadline applied.
func (h *Hub) write(c *websocket.Conn, send func(*websocket.Conn) error) error {
	if err := c.SetWriteDeadline(time.Now().Add(h.writeWait)); err != nil {
		return err
	}
	return send(c)
}

// ServeHTTP upgrades the request and holds the connection until the client
// goes away. Incoming messages are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("preview: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connMu := &sync.Mutex{}
	h.lastMu.Lock()
	last := h.last
	h.lastMu.Unlock()
	if last != nil {
		connMu.Lock()
		err := h.write(conn, func(c *websocket.Conn) error {
			return c.WriteMessage(websocket.BinaryMessage, last)
		})
		connMu.Unlock()
		if err != nil {
			return
		}
	}

	h.clientsMu.Lock()
	h.clients[conn] = connMu
	n := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Info("preview: client connected", "remote", r.RemoteAddr, "clients", n)

	defer func() {
		h.clientsMu.Lock()
		delete(h.clients, conn)
		h.clientsMu.Unlock()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logger.Debug("preview: client disconnected", "remote", r.RemoteAddr, "error", err)
			return
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// BroadcastSurface encodes the surface as PNG and sends it to every client.
func (h *Hub) BroadcastSurface(s *gpu.Surface) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, s.Snapshot()); err != nil {
		return err
	}
	frame := buf.Bytes()

	h.lastMu.Lock()
	h.last = frame
	h.lastMu.Unlock()

	h.broadcast(func(c *websocket.Conn) error {
		return c.WriteMessage(websocket.BinaryMessage, frame)
	})
	return nil
}

// BroadcastStats sends stats as a JSON text message to every client.
func (h *Hub) BroadcastStats(st Stats) {
	if st.Type == "" {
		st.Type = "stats"
	}
	h.broadcast(func(c *websocket.Conn) error {
		return c.WriteJSON(st)
	})
}

// broadcast runs write on every client and drops clients that fail.
func (h *Hub) broadcast(write func(*websocket.Conn) error) {
	var failed []*websocket.Conn

	h.clientsMu.RLock()
	for client, mu := range h.clients {
		mu.Lock()
		err := h.write(client, write)
		mu.Unlock()
		if err != nil {
			h.logger.Warn("preview: websocket write failed", "error", err)
			client.Close()
			failed = append(failed, client)
		}
	}
	h.clientsMu.RUnlock()

	if len(failed) > 0 {
		h.clientsMu.Lock()
		for _, client := range failed {
			delete(h.clients, client)
		}
		h.clientsMu.Unlock()
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for client, mu := range h.clients {
		mu.Lock()
		client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(h.writeWait))
		mu.Unlock()
		client.Close()
		delete(h.clients, client)
	}
}
