// Package statusstream hosts the WebSocket fan-out of eventbus.Event
// frames described by spec.md §9: one upgraded connection per client,
// fed from the shared in-process event bus. The transport is
// implemented; browser-side rendering is out of scope.
package statusstream

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aimaestro/meshhost/internal/eventbus"
)

// writeTimeout bounds a single frame write so one stalled client can't
// back up the hub.
const writeTimeout = 5 * time.Second

// upgrader accepts connections from any origin: the status stream has no
// cookie-based session to protect and is meant for same-operator tooling.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub upgrades incoming HTTP requests to WebSocket connections and fans
// out every eventbus.Event to each of them.
type Hub struct {
	bus *eventbus.Bus

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// NewHub builds a Hub reading from bus.
func NewHub(bus *eventbus.Bus) *Hub {
	return &Hub{bus: bus, conns: make(map[*websocket.Conn]bool)}
}

// ServeHTTP upgrades the request and streams events to it until the
// client disconnects or the bus closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.addConn(conn)
	defer h.removeConn(conn)
	defer conn.Close()

	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	// Drain inbound frames so ping/pong and close control messages are
	// processed; the status stream is write-only from the client's view.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for event := range events {
		if err := h.writeEvent(conn, event); err != nil {
			return
		}
	}
}

func (h *Hub) writeEvent(conn *websocket.Conn, event eventbus.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(event)
}

func (h *Hub) addConn(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = true
}

func (h *Hub) removeConn(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

// ConnectionCount reports the number of currently attached clients.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close drops every active connection, used on server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}
	h.conns = make(map[*websocket.Conn]bool)
}
