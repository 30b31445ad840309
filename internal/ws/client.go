package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendQueueDepth = 64
)

// Client represents a websocket subscriber with its own write loop.
type Client struct {
	conn      *websocket.Conn
	log       *slog.Logger
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client wrapper.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		conn: conn,
		log:  logger,
		send: make(chan []byte, sendQueueDepth),
		done: make(chan struct{}),
	}
}

// Send queues a message without blocking the hub.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.log.Warn("websocket subscriber too slow, dropping")
		return ErrSlowConsumer
	}
}

// Close terminates the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Serve runs the read and write loops until the peer goes away. Inbound
// messages are discarded; the read loop only services control frames.
func (c *Client) Serve() {
	go c.writeLoop()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	c.Close()
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
