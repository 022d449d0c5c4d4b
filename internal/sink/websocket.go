package sink

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/banshee-data/posebridge/internal/monitoring"
	"github.com/banshee-data/posebridge/internal/posemath"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 5 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Outbound frames queued per client before it is considered too slow.
	clientQueue = 64
)

var wsLogf = monitoring.Component("websocket")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// WebSocketHub broadcasts every applied transform to connected WebSocket
// clients. New clients receive the current pose on connect. Slow clients
// are disconnected rather than blocking Apply.
type WebSocketHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	pose    posemath.Mat4
	last    []byte
	closed  bool
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewWebSocketHub returns an empty hub. Mount it with ServeHTTP.
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients: make(map[*wsClient]struct{}),
		pose:    posemath.Identity(),
		now:     time.Now,
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		wsLogf("Upgrade failed: %v", err)
		return
	}
	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientQueue),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	h.wg.Add(2)
	h.mu.Unlock()

	wsLogf("Client %s connected from %s", c.id, r.RemoteAddr)
	go h.writePump(c)
	go h.readPump(c)
}

// readPump only services control frames; clients do not send data.
func (h *WebSocketHub) readPump(c *wsClient) {
	defer h.wg.Done()
	defer h.remove(c)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLogf("Client %s read error: %v", c.id, err)
			}
			return
		}
	}
}

func (h *WebSocketHub) writePump(c *wsClient) {
	defer h.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// remove unregisters c and closes its queue. Callers may race; only the
// first takes effect.
func (h *WebSocketHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *WebSocketHub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Apply broadcasts m to every client.
func (h *WebSocketHub) Apply(m posemath.Mat4) error {
	payload, err := EncodeFrame(m, h.now())
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.pose = m
	h.last = payload
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			wsLogf("Client %s too slow, disconnecting", c.id)
			h.removeLocked(c)
		}
	}
	return nil
}

// CurrentPose returns the last broadcast pose, identity before the first.
func (h *WebSocketHub) CurrentPose() (posemath.Mat4, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pose, nil
}

// Clients returns the number of connected clients.
func (h *WebSocketHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their goroutines.
func (h *WebSocketHub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
		// unblock readPump
		c.conn.SetReadDeadline(time.Now())
	}
	h.mu.Unlock()
	h.wg.Wait()
	return nil
}
