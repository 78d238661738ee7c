package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/service"
	"github.com/chatcore/internal/ws"
)

type RouterConfig struct {
	Service  *service.Service
	Resolver middleware.Resolver
	Hub      *ws.Hub

	// Authenticate кладёт в контекст публичный идентификатор (PublicIDKey).
	// В проде это middleware.AuthServiceValidate.
	Authenticate func(http.Handler) http.Handler

	CORSAllowedOrigins string
	RateLimitRPS       float64
	RateLimitBurst     int
	InternalSecret     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	msgH := NewMessageHandler(cfg.Service)
	convH := NewConversationHandler(cfg.Service)
	adminH := NewAdminHandler(cfg.Service)
	wsH := NewWSHandler(cfg.Hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLog)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
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
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOnly(cfg.InternalSecret))
		r.Post("/internal/conversations/{id}/rebuild", adminH.Rebuild)
	})

	r.Group(func(r chi.Router) {
		r.Use(cfg.Authenticate)
		r.Use(middleware.ResolveIdentity(cfg.Resolver))
		r.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

		r.Post("/api/conversations/private", convH.CreatePrivate)
		r.Post("/api/conversations/group", convH.CreateGroup)
		r.Get("/api/conversations/{id}", convH.Get)
		r.Post("/api/conversations/{id}/members", convH.AddMember)
		r.Delete("/api/conversations/{id}/members/{userId}", convH.Kick)
		r.Put("/api/conversations/{id}/members/{userId}/role", convH.ChangeRole)
		r.Post("/api/conversations/{id}/leave", convH.Leave)
		r.Put("/api/conversations/{id}/permission", convH.SetMessagePermission)

		r.Get("/api/conversations/{id}/messages", msgH.GetMessages)
		r.Post("/api/conversations/{id}/messages", msgH.Send)
		r.Post("/api/conversations/{id}/read", msgH.MarkAsRead)

		r.Put("/api/messages/{id}", msgH.Edit)
		r.Post("/api/messages/{id}/recall", msgH.Recall)
		r.Post("/api/messages/{id}/hide", msgH.Hide)
		r.Post("/api/messages/{id}/delete-for-me", msgH.DeleteForMe)
		r.Post("/api/messages/{id}/reactions", msgH.ToggleReaction)
		r.Delete("/api/admin/messages/{id}", msgH.AdminDelete)

		r.Get("/ws", wsH.ServeWS)
	})
	return r
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
