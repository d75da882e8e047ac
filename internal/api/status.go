package api

import "net/http"

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"connections":    h.conns.Count(),
		"sessions":       h.sessions.Count(),
		"notify_clients": h.notifier.ClientCount(),
	})
}
