package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/pokersplit/internal/store"
)

// Connection represents a WebSocket connection to a watcher
type Connection struct {
	conn      *websocket.Conn
	send      chan *Message
	code      string
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	closeOnce sync.Once
	hub       *Hub
}

// NewConnection creates a new connection wrapper
func NewConnection(conn *websocket.Conn, logger *log.Logger, hub *Hub) *Connection {
	ctx, cancel := context.WithCancel(context.Background())

	return &Connection{
		conn:   conn,
		send:   make(chan *Message, 64),
		logger: logger.WithPrefix("conn"),
		ctx:    ctx,
		cancel: cancel,
		hub:    hub,
	}
}

// Start begins handling the connection
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Done is closed once the connection has shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close closes the connection
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.cancel()
		close(c.send)
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// SendMessage queues a message for the client. A client that can't keep up
// is disconnected rather than allowed to stall the hub.
func (c *Connection) SendMessage(msg *Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.ctx.Err() != nil {
		return ErrConnectionClosed
	}

	select {
	case c.send <- msg:
		return nil
	default:
		c.logger.Warn("Connection send buffer full, closing connection", "code", c.code)
		go func() { _ = c.Close() }()
		return ErrConnectionClosed
	}
}

// Subscribe associates this connection with a round code
func (c *Connection) Subscribe(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code = code
}

// Code returns the subscribed round code, or "" when not subscribed
func (c *Connection) Code() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.code
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

var (
	ErrConnectionClosed = websocket.ErrCloseSent
)

// readPump handles incoming messages from the client
func (c *Connection) readPump() {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}

		c.handleMessage(&msg)
	}
}

// writePump handles outgoing messages to the client
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("Failed to write message", "error", err)
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

// handleMessage processes incoming messages from the client
func (c *Connection) handleMessage(msg *Message) {
	c.logger.Debug("Received message", "type", msg.Type, "code", c.Code())

	switch msg.Type {
	case MessageTypeSubscribe:
		var data SubscribeData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse subscribe data", msg.RequestID)
			return
		}
		c.handleSubscribe(data, msg.RequestID)

	case MessageTypeUnsubscribe:
		c.Subscribe("")
		c.reply(MessageTypeUnsubscribed, struct{}{}, msg.RequestID)

	default:
		c.sendError("unknown_message_type", "Unknown message type: "+msg.Type.String(), msg.RequestID)
	}
}

func (c *Connection) handleSubscribe(data SubscribeData, requestID string) {
	code, err := normalizeCode(data.Code)
	if err != nil {
		c.sendError("invalid_code", err.Error(), requestID)
		return
	}

	// Subscribe before loading so a change committed in between is still delivered.
	c.Subscribe(code)

	snap, err := c.hub.service.Get(c.ctx, code)
	if err != nil {
		c.Subscribe("")
		if errors.Is(err, store.ErrNotFound) {
			c.sendError("not_found", "No round with code "+code, requestID)
			return
		}
		c.logger.Error("Failed to load round for subscriber", "code", code, "error", err)
		c.sendError("internal", "Failed to load round", requestID)
		return
	}

	c.logger.Info("Watcher subscribed", "code", code)
	c.reply(MessageTypeRoundSnapshot, RoundSnapshotData{Change: "subscribed", Round: snap}, requestID)
}

func (c *Connection) reply(messageType MessageType, data any, requestID string) {
	msg, err := NewMessage(messageType, data)
	if err != nil {
		c.logger.Error("Failed to create message", "type", messageType, "error", err)
		return
	}
	msg.RequestID = requestID
	_ = c.SendMessage(msg)
}

// sendError sends an error message to the client
func (c *Connection) sendError(code, message, requestID string) {
	c.reply(MessageTypeError, ErrorData{Code: code, Message: message}, requestID)
}
