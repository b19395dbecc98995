package ws

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/engagekit/engrelay/hub"
	"github.com/engagekit/engrelay/telemetry"
)

// Client is one WebSocket connection. Outbound messages go through a bounded
// send buffer drained by the write pump; when the buffer is full the oldest
// pending message is dropped so one slow client never stalls fan-out.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, buffer int) *Client {
	if buffer < 1 {
		buffer = 1
	}
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Send queues msg for the write pump. It never blocks: under buffer pressure
// the oldest queued message is discarded in favor of the new one.
func (c *Client) Send(msg []byte) error {
	select {
	case <-c.done:
		return hub.ErrConnClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
	}

	select {
	case <-c.send:
		telemetry.WSDroppedMessagesTotal.Inc()
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return hub.ErrConnClosed
	default:
		telemetry.WSDroppedMessagesTotal.Inc()
		return nil
	}
}

// Close releases the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
	return nil
}
