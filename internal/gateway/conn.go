package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 128
)

// Conn wraps one websocket connection. Outbound traffic goes through a
// buffered send channel drained by a single write pump, which gives each
// recipient FIFO delivery; inbound frames surface one at a time through
// Inbound, so a connection never handles two events concurrently.
type Conn struct {
	ws     *websocket.Conn
	connID string
	userID string
	logger *slog.Logger

	send    chan any
	inbound chan *InboundFrame
	done    chan struct{}

	onPong func()

	mu     sync.Mutex
	closed bool

	joinedMu sync.Mutex
	joined   map[string]struct{}
}

func NewConn(ws *websocket.Conn, connID, userID string, logger *slog.Logger) *Conn {
	return &Conn{
		ws:      ws,
		connID:  connID,
		userID:  userID,
		logger:  logger.With("conn_id", connID, "user_id", userID),
		send:    make(chan any, sendBufferSize),
		inbound: make(chan *InboundFrame, sendBufferSize),
		done:    make(chan struct{}),
		joined:  make(map[string]struct{}),
	}
}

func (c *Conn) ConnID() string {
	return c.connID
}

func (c *Conn) UserID() string {
	return c.userID
}

// Enqueue queues an event for the write pump without blocking. A saturated
// buffer drops the event; realtime pushes are best-effort.
func (c *Conn) Enqueue(event any) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	select {
	case c.send <- event:
		return true
	default:
		c.logger.Warn("send buffer full, dropping event")
		return false
	}
}

func (c *Conn) Inbound() <-chan *InboundFrame {
	return c.inbound
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	return c.ws.Close()
}

func (c *Conn) JoinConversation(id string) {
	c.joinedMu.Lock()
	c.joined[id] = struct{}{}
	c.joinedMu.Unlock()
}

func (c *Conn) LeaveConversation(id string) {
	c.joinedMu.Lock()
	delete(c.joined, id)
	c.joinedMu.Unlock()
}

func (c *Conn) InConversation(id string) bool {
	c.joinedMu.Lock()
	defer c.joinedMu.Unlock()
	_, ok := c.joined[id]
	return ok
}

func (c *Conn) readPump() {
	defer func() {
		close(c.inbound)
		c.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if c.onPong != nil {
			c.onPong()
		}
		return nil
	})

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", "error", err)
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.Enqueue(errorAck("", "malformed event"))
			continue
		}

		select {
		case c.inbound <- &frame:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case event := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := json.Marshal(event)
			if err != nil {
				c.logger.Error("failed to marshal event", "error", err)
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
