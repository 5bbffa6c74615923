package server

import (
	"context"
	"net/http"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/pokersplit/internal/events"
)

// Hub tracks watcher connections and forwards round changes to the ones
// subscribed to that round.
type Hub struct {
	upgrader    websocket.Upgrader
	connections map[*Connection]bool
	register    chan *Connection
	unregister  chan *Connection
	service     *RoundService
	logger      *log.Logger
	mu          sync.RWMutex
	done        chan struct{}
	unsubscribe func()
}

// NewHub creates a hub fed by bus. Origins lists the allowed browser origins;
// "*" allows any.
func NewHub(service *RoundService, bus *events.Bus, origins []string, logger *log.Logger) *Hub {
	h := &Hub{
		connections: make(map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
		service:     service,
		logger:      logger.WithPrefix("hub"),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     func(r *http.Request) bool { return originAllowed(origins, r.Header.Get("Origin")) },
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	h.unsubscribe = bus.OnRoundUpdated(h.broadcast)
	return h
}

func originAllowed(origins []string, origin string) bool {
	if origin == "" || len(origins) == 0 {
		return true
	}
	return slices.Contains(origins, "*") || slices.Contains(origins, origin)
}

// Run handles connection lifecycle until ctx is cancelled, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()

	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn] = true
			total := len(h.connections)
			h.mu.Unlock()
			h.logger.Debug("Watcher connected", "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				_ = conn.Close()
			}
			total := len(h.connections)
			h.mu.Unlock()
			h.logger.Debug("Watcher disconnected", "total", total)

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) closeAll() {
	close(h.done)
	if h.unsubscribe != nil {
		h.unsubscribe()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.connections {
		_ = conn.Close()
		delete(h.connections, conn)
	}
}

// ServeHTTP upgrades the request and registers the watcher.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := NewConnection(conn, h.logger, h)
	select {
	case h.register <- client:
	case <-h.done:
		_ = client.Close()
		return
	}
	client.Start()

	go func() {
		<-client.Done()
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}()
}

// ConnectionCount returns the number of connected watchers.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// broadcast sends a change to every connection watching its round.
func (h *Hub) broadcast(ev events.RoundUpdated) {
	msg, err := NewMessage(MessageTypeRoundSnapshot, RoundSnapshotData{Change: ev.Change, Round: ev.Snapshot})
	if err != nil {
		h.logger.Error("Failed to create snapshot message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for conn := range h.connections {
		if conn.Code() != ev.Code {
			continue
		}
		if err := conn.SendMessage(msg); err != nil {
			h.logger.Debug("Failed to send snapshot", "code", ev.Code, "error", err)
			continue
		}
		count++
	}

	h.logger.Debug("Broadcasted round change", "code", ev.Code, "change", ev.Change, "recipients", count)
}
