package quotations

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/quotes", h.Create)
	r.Get("/quotes/{id}", h.Show)
	r.Post("/quotes/{id}/send", h.Send)
	r.Post("/quotes/{id}/accept", h.Accept)
	r.Post("/quotes/{id}/decline", h.Decline)
	r.Post("/quotes/{id}/convert", h.Convert)
}
