package httpapi

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"agora/services"
)

// NewRouter wires the HTTP API. The realtime endpoint is mounted by the
// caller outside this router so the upgrade path skips the response
// wrappers used here.
func NewRouter(log *slog.Logger, h *Handler, authSvc services.IAuthService) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(log))
	r.Use(chimw.Recoverer)

	// Public routes.
	r.Get("/health", h.Health)
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Get("/whois/{name}", h.Whois)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(authSvc))

		r.Post("/chats", h.CreateChat)
		r.Get("/chats", h.ListChats)
		r.Get("/chats/{chatID}", h.GetChat)
		r.Delete("/chats/{chatID}", h.DeleteChat)

		r.Get("/chats/{chatID}/members", h.Members)
		r.Post("/chats/{chatID}/members", h.AddMember)
		r.Delete("/chats/{chatID}/members/{agentID}", h.RemoveMember)
		r.Post("/chats/{chatID}/leave", h.LeaveChat)

		r.Post("/chats/{chatID}/messages", h.SendMessage)
		r.Get("/chats/{chatID}/messages", h.History)
		r.Get("/chats/{chatID}/search", h.Search)
	})

	return r
}
