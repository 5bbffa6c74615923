// Package client watches a round over the server's WebSocket.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/pokersplit/internal/round"
	"github.com/lox/pokersplit/internal/server" // Reuse message types
)

// Update is one event delivered to the watcher: a snapshot of the round, or
// an error reported by the server.
type Update struct {
	Change string
	Round  round.Snapshot
	Err    *server.ErrorData
}

// Client represents a WebSocket client watching one round
type Client struct {
	serverURL string
	conn      *websocket.Conn
	send      chan *server.Message
	updates   chan Update
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	connected bool
	code      string
	lastSeen  time.Time
	closeOnce sync.Once
}

// NewClient creates a new WebSocket client
func NewClient(serverURL string, logger *log.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		serverURL: serverURL,
		send:      make(chan *server.Message, 16),
		updates:   make(chan Update, 64),
		logger:    logger.WithPrefix("client"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// WebSocketURL converts a server base URL into its /ws endpoint.
func WebSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	// Convert http/https to ws/wss
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Connect establishes a WebSocket connection to the server
func (c *Client) Connect(ctx context.Context) error {
	wsURL, err := WebSocketURL(c.serverURL)
	if err != nil {
		return err
	}
	c.logger.Info("Connecting to server", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readPump()
	go c.writePump()

	c.logger.Debug("Connected to server")
	return nil
}

// Disconnect closes the WebSocket connection
func (c *Client) Disconnect() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.conn != nil {
			_ = c.conn.Close()
			c.connected = false
		}

		c.logger.Debug("Disconnected from server")
	})
	return nil
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Updates delivers snapshots and errors. It is closed when the connection ends.
func (c *Client) Updates() <-chan Update {
	return c.updates
}

// Subscribe asks the server for the round with code and its future changes.
func (c *Client) Subscribe(code string) error {
	c.mu.Lock()
	c.code = strings.ToUpper(strings.TrimSpace(code))
	c.lastSeen = time.Time{}
	c.mu.Unlock()

	msg, err := server.NewMessage(server.MessageTypeSubscribe, server.SubscribeData{Code: code})
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// SendMessage sends a message to the server
func (c *Client) SendMessage(msg *server.Message) error {
	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		return fmt.Errorf("send buffer full")
	}
}

// readPump handles incoming messages from the server
func (c *Client) readPump() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		close(c.updates)
		c.cancel()
	}()

	for {
		var msg server.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if c.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}

		c.logger.Debug("Received message", "type", msg.Type)

		update, ok := c.decode(&msg)
		if !ok {
			continue
		}

		select {
		case c.updates <- update:
		case <-c.ctx.Done():
			return
		}
	}
}

// decode turns a server message into an Update. Snapshots older than one
// already delivered are dropped.
func (c *Client) decode(msg *server.Message) (Update, bool) {
	switch msg.Type {
	case server.MessageTypeRoundSnapshot:
		var data server.RoundSnapshotData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.logger.Warn("Malformed snapshot", "error", err)
			return Update{}, false
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if data.Round.Code != c.code || data.Round.UpdatedAt.Before(c.lastSeen) {
			c.logger.Debug("Dropping stale snapshot", "code", data.Round.Code, "change", data.Change)
			return Update{}, false
		}
		c.lastSeen = data.Round.UpdatedAt
		return Update{Change: data.Change, Round: data.Round}, true

	case server.MessageTypeError:
		var data server.ErrorData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.logger.Warn("Malformed error message", "error", err)
			return Update{}, false
		}
		return Update{Err: &data}, true

	default:
		return Update{}, false
	}
}

// writePump handles outgoing messages to the server
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second) // Ping interval
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
