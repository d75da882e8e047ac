package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lanternbbs/lantern/internal/connection"
	"github.com/lanternbbs/lantern/internal/dispatch"
	"github.com/lanternbbs/lantern/internal/domain"
	"github.com/lanternbbs/lantern/pkg/wire"
)

var terminalUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// terminalWebSocket is the live terminal endpoint: one connection, one
// session, one notify client. The read loop feeds lines to the
// dispatcher and handles the control messages inline.
func (h *Handler) terminalWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := terminalUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := connection.NewWebSocketConnection(uuid.New().String(), raw)
	h.conns.Add(conn)
	h.notifier.RegisterClient(conn, "")
	sess := h.sessions.Create(conn.ID())
	go conn.WriteLoop()
	h.broadcastConnectionCount()

	defer func() {
		if current, ok := h.sessions.Get(sess.ID); ok && current.Authenticated() && current.Handle != "" {
			h.notifier.BroadcastToAuthenticated(domain.NewEvent(domain.EventUserLeft, map[string]any{
				"handle": current.Handle,
			}))
		}
		h.notifier.UnregisterClient(conn.ID())
		h.sessions.RemoveByConnection(conn.ID())
		h.conns.Remove(conn.ID())
		_ = conn.Close()
		h.broadcastConnectionCount()
	}()

	if err := connection.SendText(conn, dispatch.WelcomeScreen); err != nil {
		return
	}

	for {
		_, payload, err := raw.ReadMessage()
		if err != nil {
			return
		}

		var msg wire.ClientEnvelope
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.sendWSError(conn, "invalid message")
			continue
		}

		switch msg.Type {
		case wire.ClientMessageTypeInput:
			output := h.dispatcher.ProcessInput(r.Context(), sess.ID, msg.Data)
			if err := connection.SendText(conn, output); err != nil {
				return
			}
		case wire.ClientMessageTypeAuthenticate:
			h.handleWSAuthenticate(conn, sess.ID, msg.Token)
		case wire.ClientMessageTypeSubscribe:
			if err := h.notifier.Subscribe(conn.ID(), msg.Subscriptions); err != nil {
				h.sendWSError(conn, err.Error())
			}
		case wire.ClientMessageTypeUnsubscribe:
			h.notifier.Unsubscribe(conn.ID(), msg.EventTypes)
		case wire.ClientMessageTypePong:
			h.sessions.Touch(sess.ID)
		default:
			h.sendWSError(conn, "unsupported message type")
		}
	}
}

// handleWSAuthenticate lets a client skip the interactive login by
// presenting a token from the REST login endpoint.
func (h *Handler) handleWSAuthenticate(conn connection.Connection, sessionID, token string) {
	claims, err := h.tokens.Verify(token)
	if err != nil {
		h.sendWSError(conn, "invalid token")
		return
	}
	applied := false
	h.sessions.Update(sessionID, func(s *domain.Session) {
		// A token refresh on a live session changes nothing: identity is
		// already set and an in-progress activity keeps its context.
		if s.State != domain.StateConnected && s.State != domain.StateAuthenticating {
			return
		}
		s.State = domain.StateAuthenticated
		s.UserID = claims.Subject
		s.Handle = claims.Handle
		s.Context = domain.Context{}
		applied = true
	})
	if applied {
		h.notifier.AuthenticateClient(conn.ID(), claims.Subject)
	}
	if err := connection.SendText(conn, "\x1b[1;32mWelcome back, "+claims.Handle+".\x1b[0m\r\nType ? for the menu.\r\n"); err != nil {
		h.logger.Debug("authenticate ack not delivered to %s: %v", conn.ID(), err)
	}
}

func (h *Handler) broadcastConnectionCount() {
	h.notifier.Broadcast(domain.NewEvent(domain.EventConnectionCount, map[string]any{
		"count": h.conns.Count(),
	}))
}

func (h *Handler) sendWSError(conn connection.Connection, message string) {
	if err := conn.Send(wire.ServerEnvelope{Type: wire.ServerMessageTypeError, Message: message}); err != nil {
		h.logger.Debug("error frame not delivered to %s: %v", conn.ID(), err)
	}
}
