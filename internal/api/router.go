package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/fanout/internal/session"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *session.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Chats CRUD.
	r.Get("/chats", h.ListChats)
	r.Post("/chats", h.CreateChat)
	r.Get("/chats/{chatID}", h.GetChat)
	r.Delete("/chats/{chatID}", h.DeleteChat)
	r.Put("/chats/{chatID}/title", h.UpdateChatTitle)
	r.Post("/chats/{chatID}/activate", h.ActivateChat)

	// Messages.
	r.Post("/chats/{chatID}/messages", h.AddMessage)
	r.Put("/chats/{chatID}/messages/{messageID}", h.UpdateMessage)
	r.Delete("/chats/{chatID}/messages/{messageID}", h.DeleteMessage)

	// Targets and the aggregate toggle.
	r.Get("/targets", h.ListTargets)
	r.Post("/targets/toggle", h.ToggleTargets)
	r.Post("/targets/{targetID}/engage", h.EngageTarget)
	r.Post("/targets/{targetID}/disengage", h.DisengageTarget)

	// Prompt dispatch.
	r.Post("/dispatch", h.Dispatch)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
