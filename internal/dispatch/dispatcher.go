// Package dispatch routes one line of session input to the first
// handler that claims it. Handler order is fixed at registration and is
// the whole precedence story: auth before door before menu.
package dispatch

import (
	"context"

	"github.com/agentuity/go-common/logger"

	"github.com/lanternbbs/lantern/internal/domain"
	"github.com/lanternbbs/lantern/internal/session"
)

const (
	reconnectNotice = "Your session has expired. Please reconnect.\r\n"
	genericError    = "\x1b[31mAn error occurred. Please try again.\x1b[0m\r\n"
	unhandledNotice = "Nothing here understands that. Try '?' for the menu.\r\n"
)

// Handler owns input processing for a subset of (session state, input)
// pairs. CanHandle must be cheap and side-effect free; Handle may mutate
// the session through the SessionManager as often as it likes.
type Handler interface {
	Name() string
	CanHandle(sess *domain.Session, line string) bool
	Handle(ctx context.Context, sess *domain.Session, line string) (string, error)
}

type Dispatcher struct {
	logger   logger.Logger
	sessions *session.Manager
	handlers []Handler
}

func NewDispatcher(log logger.Logger, sessions *session.Manager, handlers ...Handler) *Dispatcher {
	return &Dispatcher{
		logger:   log.WithPrefix("[dispatch]"),
		sessions: sessions,
		handlers: handlers,
	}
}

// ProcessInput resolves the session, finds the first matching handler,
// and returns the rendered output. A handler error is logged and turned
// into a generic user-safe string; the session state it saw is left as
// the handler's successful updates made it, never corrupted by the
// failure path.
func (d *Dispatcher) ProcessInput(ctx context.Context, sessionID, rawLine string) string {
	sess, ok := d.sessions.Get(sessionID)
	if !ok {
		return reconnectNotice
	}
	d.sessions.Touch(sessionID)

	for _, h := range d.handlers {
		if !h.CanHandle(sess, rawLine) {
			continue
		}
		output, err := d.invoke(ctx, h, sess, rawLine)
		if err != nil {
			d.logger.Error("handler %s failed for session %s: %v", h.Name(), sessionID, err)
			return genericError
		}
		return output
	}

	d.logger.Warn("no handler for session %s in state %s", sessionID, sess.State)
	return unhandledNotice
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, sess *domain.Session, line string) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &handlerPanic{handler: h.Name(), value: r}
		}
	}()
	return h.Handle(ctx, sess, line)
}

type handlerPanic struct {
	handler string
	value   any
}

func (p *handlerPanic) Error() string {
	return "panic in handler " + p.handler
}
