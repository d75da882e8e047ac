package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lanternbbs/lantern/internal/auth"
	"github.com/lanternbbs/lantern/internal/connection"
	"github.com/lanternbbs/lantern/internal/domain"
	"github.com/lanternbbs/lantern/internal/door"
)

// doorResponse mirrors the WebSocket door experience over REST. The
// sessionId is the same session a terminal connection for this user's
// synthetic connection id would use.
type doorResponse struct {
	Output    string `json:"output"`
	SessionID string `json:"session_id"`
	Exited    bool   `json:"exited,omitempty"`
}

func (h *Handler) listDoors(w http.ResponseWriter, _ *http.Request) {
	type doorDTO struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	engines := h.doors.Engines()
	out := make([]doorDTO, 0, len(engines))
	for _, e := range engines {
		out = append(out, doorDTO{ID: e.ID(), Name: e.Name()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"doors": out})
}

func (h *Handler) enterDoor(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	sess := h.restSession(claims)

	output, err := h.doors.Enter(r.Context(), sess.ID, chi.URLParam(r, "doorID"))
	if errors.Is(err, door.ErrUnknownDoor) {
		writeError(w, http.StatusNotFound, "no such door")
		return
	}
	if err != nil {
		h.logger.Error("door enter failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to enter door")
		return
	}
	writeJSON(w, http.StatusOK, doorResponse{Output: output, SessionID: sess.ID})
}

func (h *Handler) doorInput(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	sess := h.restSession(claims)

	var req struct {
		Input string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.inDoor(w, sess, chi.URLParam(r, "doorID")) {
		return
	}

	output, err := h.doors.ProcessInput(r.Context(), sess.ID, req.Input)
	if errors.Is(err, door.ErrNotInDoor) {
		writeError(w, http.StatusConflict, "not in a door; enter first")
		return
	}
	if err != nil {
		h.logger.Error("door input failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to process input")
		return
	}
	writeJSON(w, http.StatusOK, doorResponse{Output: output, SessionID: sess.ID})
}

func (h *Handler) exitDoor(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	sess := h.restSession(claims)
	if !h.inDoor(w, sess, chi.URLParam(r, "doorID")) {
		return
	}

	output, err := h.doors.Exit(r.Context(), sess.ID)
	if errors.Is(err, door.ErrNotInDoor) {
		writeError(w, http.StatusConflict, "not in a door")
		return
	}
	if err != nil {
		h.logger.Error("door exit failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to exit door")
		return
	}
	writeJSON(w, http.StatusOK, doorResponse{Output: output, SessionID: sess.ID, Exited: true})
}

// inDoor checks that the session's active door is the one the URL names.
// The routed doorID is part of the contract, not decoration; feeding a
// line addressed to one door into another is a conflict, not a success.
func (h *Handler) inDoor(w http.ResponseWriter, sess *domain.Session, doorID string) bool {
	if sess.Context.Door == nil {
		writeError(w, http.StatusConflict, "not in a door; enter first")
		return false
	}
	if sess.Context.Door.DoorID != doorID {
		writeError(w, http.StatusConflict, "in a different door: "+sess.Context.Door.DoorID)
		return false
	}
	return true
}

// restSession binds the caller to their synthetic per-user connection.
// The deterministic id means every REST call, and any future terminal
// reconnect, lands on the same session-keyed door state.
func (h *Handler) restSession(claims *auth.Claims) *domain.Session {
	connID := connection.RESTConnectionPrefix + claims.Subject
	if _, ok := h.conns.Get(connID); !ok {
		loopback := connection.NewLoopbackConnection(claims.Subject)
		h.conns.Add(loopback)
		h.notifier.RegisterClient(loopback, claims.Subject)
	}

	sess := h.sessions.Create(connID)
	if !sess.Authenticated() {
		h.sessions.Update(sess.ID, func(s *domain.Session) {
			s.State = domain.StateAuthenticated
			s.UserID = claims.Subject
			s.Handle = claims.Handle
		})
		sess.State = domain.StateAuthenticated
		sess.UserID = claims.Subject
		sess.Handle = claims.Handle
	}
	return sess
}

// releaseRestConnection runs when the sweep evicts an idle session. A
// synthetic REST connection has no socket close to tear it down, so the
// eviction is the only point where its registrations can be released.
// Terminal connections are left alone; their socket may still be live.
func (h *Handler) releaseRestConnection(sess *domain.Session) {
	if !strings.HasPrefix(sess.ConnectionID, connection.RESTConnectionPrefix) {
		return
	}
	h.notifier.UnregisterClient(sess.ConnectionID)
	if conn, ok := h.conns.Get(sess.ConnectionID); ok {
		_ = conn.Close()
	}
	h.conns.Remove(sess.ConnectionID)
}
