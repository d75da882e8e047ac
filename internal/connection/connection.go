// Package connection wraps raw duplex transports behind one contract so
// nothing above it knows whether a peer arrived over WebSocket or the
// REST loopback.
package connection

import (
	"errors"

	"github.com/lanternbbs/lantern/pkg/wire"
)

var ErrClosed = errors.New("connection closed")

// Connection is one live duplex channel. Send must never panic into a
// caller: a dead transport reports ErrClosed and the caller decides
// whether that matters.
type Connection interface {
	ID() string
	Send(env wire.ServerEnvelope) error
	Close() error
}

// SendText delivers one rendered output frame.
func SendText(c Connection, text string) error {
	return c.Send(wire.ServerEnvelope{Type: wire.ServerMessageTypeOutput, Data: text})
}
