// Package api is the HTTP surface: REST routes plus the terminal
// WebSocket endpoint. Handlers validate and translate; the engines they
// call live below.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/agentuity/go-common/logger"
	"github.com/go-chi/chi/v5"

	"github.com/lanternbbs/lantern/internal/auth"
	"github.com/lanternbbs/lantern/internal/connection"
	"github.com/lanternbbs/lantern/internal/dispatch"
	"github.com/lanternbbs/lantern/internal/door"
	"github.com/lanternbbs/lantern/internal/notify"
	"github.com/lanternbbs/lantern/internal/session"
	"github.com/lanternbbs/lantern/internal/storage"
)

type Handler struct {
	logger     logger.Logger
	tokens     *auth.Tokens
	users      *storage.UserRepo
	messages   *storage.MessageRepo
	doors      *door.Service
	sessions   *session.Manager
	conns      *connection.Manager
	notifier   *notify.Service
	dispatcher *dispatch.Dispatcher
}

func NewHandler(log logger.Logger, tokens *auth.Tokens, users *storage.UserRepo, messages *storage.MessageRepo, doors *door.Service, sessions *session.Manager, conns *connection.Manager, notifier *notify.Service, dispatcher *dispatch.Dispatcher) *Handler {
	h := &Handler{
		logger:     log.WithPrefix("[api]"),
		tokens:     tokens,
		users:      users,
		messages:   messages,
		doors:      doors,
		sessions:   sessions,
		conns:      conns,
		notifier:   notifier,
		dispatcher: dispatcher,
	}
	sessions.SetEvictObserver(h.releaseRestConnection)
	return h
}

// Mount registers all routes on the provided router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/api/auth/register", h.register)
	r.Post("/api/auth/login", h.login)
	r.Get("/api/status", h.status)
	r.Get("/ws", h.terminalWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/api/bases", h.listBases)
		r.Get("/api/bases/{baseID}/messages", h.listMessages)
		r.Post("/api/bases/{baseID}/messages", h.postMessage)
		r.Delete("/api/messages/{messageID}", h.deleteMessage)
		r.Get("/api/doors", h.listDoors)
		r.Post("/api/doors/{doorID}/enter", h.enterDoor)
		r.Post("/api/doors/{doorID}/input", h.doorInput)
		r.Post("/api/doors/{doorID}/exit", h.exitDoor)
	})
}

type contextKey string

const claimsKey contextKey = "claims"

func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.tokens.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return claims
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
