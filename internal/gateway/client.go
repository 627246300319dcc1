package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/botrelay/pkg/protocol"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	sendBuffer  = 64
	maxReadSize = 4096
)

// Client is one WebSocket subscriber. Events are queued per client and a
// slow client loses events rather than blocking the bus.
type Client struct {
	id       string
	instance string // "" = all instances
	conn     *websocket.Conn
	send     chan protocol.EventFrame

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(conn *websocket.Conn, instance string) *Client {
	return &Client{
		id:       uuid.NewString(),
		instance: instance,
		conn:     conn,
		send:     make(chan protocol.EventFrame, sendBuffer),
		done:     make(chan struct{}),
	}
}

// Wants reports whether the client subscribed to events of instance.
// Events without an instance go to everyone.
func (c *Client) Wants(instance string) bool {
	return c.instance == "" || instance == "" || c.instance == instance
}

// SendEvent queues f without blocking.
func (c *Client) SendEvent(f protocol.EventFrame) {
	select {
	case <-c.done:
	case c.send <- f:
	default:
		slog.Warn("ws client queue full, event dropped", "id", c.id, "event", f.Event)
	}
}

// Run pumps events to the connection until it closes or ctx is done.
func (c *Client) Run(ctx context.Context) {
	go c.readLoop()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case f := <-c.send:
			data, err := json.Marshal(f)
			if err != nil {
				slog.Warn("ws marshal event", "event", f.Event, "error", err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// readLoop consumes control frames; the stream is server-to-client only.
func (c *Client) readLoop() {
	c.conn.SetReadLimit(maxReadSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.Close()
			return
		}
	}
}

// Close terminates the connection once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
