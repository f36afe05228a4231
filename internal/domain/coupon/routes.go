package coupon

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pandarank/pandarank-api/internal/middleware"
)

// Routes returns coupon router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Post("/validate", h.Validate)
	r.Post("/use", h.Use)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdmin())
		r.Post("/", h.Create)
		r.Post("/batch", h.CreateBatch)
		r.Get("/", h.List)
		r.Get("/stats", h.Stats)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/assign", h.Assign)
		r.Post("/{id}/cancel-use", h.CancelUse)
		r.Post("/{id}/cancel", h.Cancel)
	})

	return r
}
