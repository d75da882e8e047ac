package connection

import (
	"strings"
	"sync"

	"github.com/lanternbbs/lantern/pkg/wire"
)

// LoopbackConnection is the in-process transport behind the stateless
// REST door surface. It captures output frames so the HTTP handler can
// return them in the response body. Its id is deterministic per user
// ("rest:<userID>"), which is what lets REST and WebSocket traffic bind
// to the same session-keyed activity state.
type LoopbackConnection struct {
	id string

	mu     sync.Mutex
	frames []string
	closed bool
}

// RESTConnectionPrefix namespaces synthetic connection ids so they can
// never collide with transport-generated ones.
const RESTConnectionPrefix = "rest:"

func NewLoopbackConnection(userID string) *LoopbackConnection {
	return &LoopbackConnection{id: RESTConnectionPrefix + userID}
}

func (c *LoopbackConnection) ID() string {
	return c.id
}

func (c *LoopbackConnection) Send(env wire.ServerEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if env.Type == wire.ServerMessageTypeOutput {
		c.frames = append(c.frames, env.Data)
	}
	return nil
}

// Drain returns captured output frames and resets the buffer.
func (c *LoopbackConnection) Drain() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := strings.Join(c.frames, "")
	c.frames = nil
	return out
}

func (c *LoopbackConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
