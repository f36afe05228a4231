package point

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pandarank/pandarank-api/internal/middleware"
)

// Routes returns point router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Get("/balance", h.Balance)
	r.Get("/stats", h.Stats)
	r.Get("/transactions", h.History)
	r.Post("/use", h.Use)
	r.Post("/transactions/{id}/refund", h.Refund)
	r.Post("/exchange", h.Exchange)
	r.Get("/exchanges", h.ListExchanges)
	r.Post("/exchanges/{id}/cancel", h.CancelExchange)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdmin())
		r.Post("/earn", h.Earn)
		r.Post("/exchanges/{id}/{action:approve|reject|complete}", h.ProcessExchange)
	})

	return r
}
