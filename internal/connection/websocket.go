package connection

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lanternbbs/lantern/pkg/wire"
)

const outboundBufferSize = 64

// WebSocketConnection queues outbound envelopes onto a buffered channel
// drained by WriteLoop. A full buffer means the peer has stopped
// reading; Send reports ErrClosed and the owner tears the connection
// down.
type WebSocketConnection struct {
	id   string
	conn *websocket.Conn
	send chan wire.ServerEnvelope

	done  chan struct{}
	close sync.Once
}

func NewWebSocketConnection(id string, conn *websocket.Conn) *WebSocketConnection {
	return &WebSocketConnection{
		id:   id,
		conn: conn,
		send: make(chan wire.ServerEnvelope, outboundBufferSize),
		done: make(chan struct{}),
	}
}

func (c *WebSocketConnection) ID() string {
	return c.id
}

func (c *WebSocketConnection) Send(env wire.ServerEnvelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrClosed
	}
}

// WriteLoop drains the outbound queue onto the socket. It exits on the
// first write error or when Close fires.
func (c *WebSocketConnection) WriteLoop() {
	for {
		select {
		case env := <-c.send:
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-c.done:
			// Flush whatever is already queued before the socket goes away.
			for {
				select {
				case env := <-c.send:
					if err := c.conn.WriteJSON(env); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *WebSocketConnection) Close() error {
	c.close.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
	return nil
}
