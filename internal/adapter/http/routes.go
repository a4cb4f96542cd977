package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	r.Get("/ws", h.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/threads", h.ListThreads)
		r.Post("/threads", h.CreateThread)
		r.Post("/threads/pregenerated", h.CreatePregeneratedThread)

		r.Get("/threads/{id}/messages", h.ListMessages)
		r.Post("/threads/{id}/messages", h.SendMessage)
		r.Delete("/threads/{id}/messages", h.ClearMessages)

		r.Get("/tasks", h.ListTasks)
	})
}
