package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/expertinthecity/internal/logger"
	"github.com/expertinthecity/internal/presence"
	"github.com/expertinthecity/internal/storage"
)

const (
	defaultOnlineLimit = 50
	maxOnlineLimit     = 500
)

type PresenceHandler struct {
	svc *presence.Service
}

func NewPresenceHandler(svc *presence.Service) *PresenceHandler {
	return &PresenceHandler{svc: svc}
}

// Get возвращает запись присутствия пользователя.
func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	rec, err := h.svc.Get(r.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "presence not found")
		return
	}
	if err != nil {
		logger.Errorf("presence get user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListOnline возвращает пользователей онлайн, самые свежие первыми.
func (h *PresenceHandler) ListOnline(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultOnlineLimit, maxOnlineLimit)
	list, err := h.svc.ListOnline(r.Context(), limit)
	if err != nil {
		logger.Errorf("presence list online: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}
