package handler

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/expertinthecity/internal/logger"
	"github.com/expertinthecity/internal/middleware"
	"github.com/expertinthecity/internal/ws"
)

type WSHandler struct {
	hub      *ws.Hub
	origins  map[string]struct{}
	upgrader websocket.Upgrader
}

// NewWSHandler создаёт обработчик /ws. allowedOrigins задаётся как для CORS: список через запятую,
// "*" или пустая строка разрешают любой Origin.
func NewWSHandler(hub *ws.Hub, allowedOrigins string) *WSHandler {
	h := &WSHandler{hub: hub}
	for _, o := range splitOrigins(allowedOrigins) {
		if o == "*" {
			h.origins = nil
			break
		}
		if h.origins == nil {
			h.origins = make(map[string]struct{})
		}
		h.origins[o] = struct{}{}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.allowOrigin,
	}
	return h
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// allowOrigin пропускает запросы без Origin (не браузер).
func (h *WSHandler) allowOrigin(r *http.Request) bool {
	if h.origins == nil {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	_, ok := h.origins[origin]
	return ok
}

// ServeWS поднимает соединение; сессия присутствия стартует, когда хаб регистрирует клиента.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	profile, ok := middleware.GetProfile(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.allowOrigin(r) {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade user=%s: %v", profile.ID, err)
		return
	}
	h.hub.Register(h.hub.NewClient(conn, profile))
}
