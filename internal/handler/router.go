package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/expertinthecity/internal/auth"
	"github.com/expertinthecity/internal/config"
	"github.com/expertinthecity/internal/middleware"
)

// Router собирает все обработчики API шлюза.
type Router struct {
	Config   *config.Config
	Verifier *auth.Verifier
	Presence *PresenceHandler
	Chats    *ChatHandler
	Push     *PushHandler
	WS       *WSHandler
}

func (rt Router) Handler() http.Handler {
	configH := NewConfigHandler(rt.Config)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket, иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	origins := splitOrigins(rt.Config.CORSAllowedOrigins)
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/api/config/client", configH.GetClientConfig)

	r.Group(func(r chi.Router) {
		r.Use(middleware.JWTAuth(rt.Verifier))
		r.Use(middleware.RateLimitAPIUser)
		r.Get("/api/presence", rt.Presence.ListOnline)
		r.Get("/api/presence/{userId}", rt.Presence.Get)
		r.Get("/api/chats", rt.Chats.List)
		r.Post("/api/chats/{chatId}/read", rt.Chats.MarkRead)
		r.Post("/api/push/subscribe", rt.Push.Subscribe)
		r.Delete("/api/push/subscribe", rt.Push.Unsubscribe)
		if rt.WS != nil {
			r.Get("/ws", rt.WS.ServeWS)
		}
	})
	return r
}
