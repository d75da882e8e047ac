package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lanternbbs/lantern/internal/domain"
	"github.com/lanternbbs/lantern/internal/storage"
)

type messageDTO struct {
	ID           string    `json:"id"`
	BaseID       string    `json:"base_id"`
	AuthorHandle string    `json:"author_handle"`
	Body         string    `json:"body"`
	CreatedAt    time.Time `json:"created_at"`
}

type messagePage struct {
	Messages []messageDTO `json:"messages"`
	Page     int          `json:"page"`
	Limit    int          `json:"limit"`
	Total    int          `json:"total"`
}

func (h *Handler) listBases(w http.ResponseWriter, r *http.Request) {
	bases, err := h.messages.ListBases(r.Context())
	if err != nil {
		h.logger.Error("failed to list bases: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list bases")
		return
	}
	type baseDTO struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	out := make([]baseDTO, 0, len(bases))
	for _, b := range bases {
		out = append(out, baseDTO{ID: b.ID, Name: b.Name, Description: b.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"bases": out})
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	baseID := chi.URLParam(r, "baseID")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 25
	}

	msgs, total, err := h.messages.List(r.Context(), baseID, page, limit)
	if errors.Is(err, storage.ErrBaseNotFound) {
		writeError(w, http.StatusNotFound, "no such message base")
		return
	}
	if err != nil {
		h.logger.Error("failed to list messages: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	out := messagePage{Messages: make([]messageDTO, 0, len(msgs)), Page: page, Limit: limit, Total: total}
	for _, m := range msgs {
		out.Messages = append(out.Messages, messageDTO{
			ID: m.ID, BaseID: m.BaseID, AuthorHandle: m.AuthorHandle,
			Body: m.Body, CreatedAt: m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	baseID := chi.URLParam(r, "baseID")

	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		writeError(w, http.StatusBadRequest, "message body is required")
		return
	}

	msg, err := h.messages.Create(r.Context(), baseID, claims.Subject, claims.Handle, req.Body)
	if errors.Is(err, storage.ErrBaseNotFound) {
		writeError(w, http.StatusNotFound, "no such message base")
		return
	}
	if err != nil {
		h.logger.Error("failed to post message: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to post message")
		return
	}

	h.notifier.Broadcast(domain.NewEvent(domain.EventMessageNew, map[string]any{
		"message_base_id": msg.BaseID,
		"message_id":      msg.ID,
		"handle":          msg.AuthorHandle,
	}))
	writeJSON(w, http.StatusCreated, messageDTO{
		ID: msg.ID, BaseID: msg.BaseID, AuthorHandle: msg.AuthorHandle,
		Body: msg.Body, CreatedAt: msg.CreatedAt,
	})
}

// deleteMessage removes one of the caller's own posts.
func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	messageID := chi.URLParam(r, "messageID")

	msg, err := h.messages.Get(r.Context(), messageID)
	if errors.Is(err, storage.ErrMessageNotFound) {
		writeError(w, http.StatusNotFound, "no such message")
		return
	}
	if err != nil {
		h.logger.Error("failed to look up message: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}
	if msg.AuthorID != claims.Subject {
		writeError(w, http.StatusForbidden, "you can only delete your own messages")
		return
	}
	if err := h.messages.Delete(r.Context(), messageID); err != nil {
		h.logger.Error("failed to delete message: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}

	h.notifier.Broadcast(domain.NewEvent(domain.EventMessageDeleted, map[string]any{
		"message_base_id": msg.BaseID,
		"message_id":      msg.ID,
	}))
	w.WriteHeader(http.StatusNoContent)
}
