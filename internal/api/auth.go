package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lanternbbs/lantern/internal/auth"
	"github.com/lanternbbs/lantern/internal/storage"
)

type credentialsRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Handle string `json:"handle"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Handle == "" || len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "handle and a password of 6+ characters are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("failed to hash password: %v", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	user, err := h.users.Create(r.Context(), req.Handle, hash)
	if errors.Is(err, storage.ErrHandleTaken) {
		writeError(w, http.StatusConflict, "handle already taken")
		return
	}
	if err != nil {
		h.logger.Error("failed to create user: %v", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	h.issueToken(w, user)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.users.GetByHandle(r.Context(), req.Handle)
	if errors.Is(err, storage.ErrUserNotFound) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		h.logger.Error("failed to look up user: %v", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := h.users.TouchLogin(r.Context(), user.ID); err != nil {
		h.logger.Error("failed to record login for %s: %v", user.Handle, err)
	}

	h.issueToken(w, user)
}

func (h *Handler) issueToken(w http.ResponseWriter, user *storage.User) {
	token, err := h.tokens.Issue(user.ID, user.Handle)
	if err != nil {
		h.logger.Error("failed to issue token: %v", err)
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, UserID: user.ID, Handle: user.Handle})
}
