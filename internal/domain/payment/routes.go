package payment

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns payment router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/stats", h.Stats)
	r.Get("/{id}", h.Get)
	r.Put("/{id}/refund-account", h.UpdateRefundAccount)
	r.Post("/{id}/refund", h.Refund)

	return r
}

// WebhookRoutes returns the gateway callback router (no auth)
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/iamport", h.IamportWebhook)
	return r
}
