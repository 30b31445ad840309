package ws

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SSEClient streams Server-Sent Events over an HTTP response writer.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	closed  bool
	seq     uint64
	last    time.Time
	send    chan []byte
	done    chan struct{}
}

// NewSSEClient builds an SSE client instance.
func NewSSEClient(writer io.Writer, flusher http.Flusher, logger *slog.Logger) *SSEClient {
	return &SSEClient{
		writer:  writer,
		flusher: flusher,
		log:     logger,
		last:    time.Now().UTC(),
		send:    make(chan []byte, sendQueueDepth),
		done:    make(chan struct{}),
	}
}

// Send queues payload for the handler goroutine without touching the network.
func (c *SSEClient) Send(payload []byte) error {
	select {
	case <-c.done:
		return io.EOF
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.log.Warn("sse subscriber too slow, dropping")
		return ErrSlowConsumer
	}
}

// Messages yields queued payloads; the owning handler drains it with WriteFrame.
func (c *SSEClient) Messages() <-chan []byte {
	return c.send
}

// WriteFrame emits an "event" frame carrying payload.
func (c *SSEClient) WriteFrame(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	c.seq++
	if _, err := fmt.Fprintf(c.writer, "id: %d\nevent: event\ndata: %s\n\n", c.seq, payload); err != nil {
		c.closeLocked()
		c.log.Warn("sse send failed", "error", err)
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if _, err := fmt.Fprint(c.writer, ": ping\n\n"); err != nil {
		c.closeLocked()
		c.log.Warn("sse heartbeat failed", "error", err)
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *SSEClient) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Done is closed once the stream can no longer be written.
func (c *SSEClient) Done() <-chan struct{} {
	return c.done
}

// LastActivity reports the timestamp of the most recent successful write.
func (c *SSEClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
