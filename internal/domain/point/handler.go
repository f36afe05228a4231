package point

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pandarank/pandarank-api/internal/middleware"
	"github.com/pandarank/pandarank-api/internal/pkg/errorhandler"
	"github.com/pandarank/pandarank-api/internal/pkg/response"
	"github.com/pandarank/pandarank-api/internal/pkg/validator"
)

// Handler handles point HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates point handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Balance handles GET /points/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	balance, err := h.service.Balance(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.OK(w, BalanceResponse{UserID: userID, Balance: balance})
}

// Stats handles GET /points/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, stats)
}

// History handles GET /points/transactions
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter TransactionFilter

	if v := q.Get("kind"); v != "" {
		kind := Kind(v)
		if !kind.IsValid() {
			response.BadRequest(w, "Invalid transaction kind")
			return
		}
		filter.Kind = &kind
	}
	for param, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		if v := q.Get(param); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				response.BadRequest(w, "Invalid '"+param+"' timestamp, expected RFC3339")
				return
			}
			*dst = &ts
		}
	}

	page, limit, offset := response.Pagination(r)
	items, total, err := h.service.History(r.Context(), middleware.GetUserID(r.Context()), filter, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.WithMeta(w, items, response.NewMeta(total, page, limit))
}

// Earn handles POST /points/earn (admin)
func (h *Handler) Earn(w http.ResponseWriter, r *http.Request) {
	var req EarnRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	t, err := h.service.Earn(r.Context(), userID, req.Amount, req.Description, req.provenance(), req.ExpiresAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, t)
}

// Use handles POST /points/use
func (h *Handler) Use(w http.ResponseWriter, r *http.Request) {
	var req UseRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	t, err := h.service.Use(r.Context(), middleware.GetUserID(r.Context()), req.Amount, req.Description, req.provenance())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, t)
}

// Refund handles POST /points/transactions/{id}/refund
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid transaction ID")
		return
	}

	var req RefundRequest
	if r.ContentLength != 0 {
		if err := response.DecodeJSON(r.Body, &req); err != nil {
			response.BadRequest(w, "Invalid JSON body")
			return
		}
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	actor, _ := middleware.GetActor(r.Context())
	t, err := h.service.Refund(r.Context(), id, req.Reason, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, t)
}

// Exchange handles POST /points/exchange
func (h *Handler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req ExchangeBody
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	ex, err := h.service.Exchange(r.Context(), middleware.GetUserID(r.Context()), req.Amount, BankDetails{
		BankName:      req.BankName,
		AccountNumber: req.AccountNumber,
		AccountHolder: req.AccountHolder,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, ex)
}

// ListExchanges handles GET /points/exchanges
func (h *Handler) ListExchanges(w http.ResponseWriter, r *http.Request) {
	var filter ExchangeFilter
	if v := r.URL.Query().Get("status"); v != "" {
		status := ExchangeStatus(v)
		filter.Status = &status
	}
	if v := r.URL.Query().Get("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.BadRequest(w, "Invalid user ID")
			return
		}
		filter.UserID = &id
	}

	actor, _ := middleware.GetActor(r.Context())
	page, limit, offset := response.Pagination(r)
	items, total, err := h.service.ListExchangeRequests(r.Context(), actor, filter, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.WithMeta(w, items, response.NewMeta(total, page, limit))
}

// CancelExchange handles POST /points/exchanges/{id}/cancel
func (h *Handler) CancelExchange(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid exchange ID")
		return
	}

	actor, _ := middleware.GetActor(r.Context())
	ex, err := h.service.CancelExchange(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, ex)
}

// ProcessExchange handles POST /points/exchanges/{id}/{action} (admin)
func (h *Handler) ProcessExchange(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid exchange ID")
		return
	}

	var req ProcessExchangeBody
	if r.ContentLength != 0 {
		if err := response.DecodeJSON(r.Body, &req); err != nil {
			response.BadRequest(w, "Invalid JSON body")
			return
		}
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	actor, _ := middleware.GetActor(r.Context())
	action := ExchangeAction(chi.URLParam(r, "action"))
	ex, err := h.service.ProcessExchange(r.Context(), id, action, actor, req.Reason, req.TransactionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, ex)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		response.Error(w, http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than 0")
	case errors.Is(err, ErrInsufficientBalance):
		response.Error(w, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE", "Insufficient point balance")
	case errors.Is(err, ErrBelowMinimumExchange):
		response.Error(w, http.StatusUnprocessableEntity, "BELOW_MINIMUM_EXCHANGE", err.Error())
	case errors.Is(err, ErrUserNotFound):
		response.Error(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
	case errors.Is(err, ErrTransactionNotFound):
		response.Error(w, http.StatusNotFound, "TRANSACTION_NOT_FOUND", "Point transaction not found")
	case errors.Is(err, ErrExchangeNotFound):
		response.Error(w, http.StatusNotFound, "EXCHANGE_NOT_FOUND", "Exchange request not found")
	case errors.Is(err, ErrForbidden):
		response.Error(w, http.StatusForbidden, "POINT_FORBIDDEN", "Not allowed")
	case errors.Is(err, ErrNotRefundable):
		response.Error(w, http.StatusConflict, "NOT_REFUNDABLE", "Only USE transactions can be refunded")
	case errors.Is(err, ErrAlreadyRefunded):
		response.Error(w, http.StatusConflict, "ALREADY_REFUNDED", "Transaction already refunded")
	case errors.Is(err, ErrInvalidExchangeTransition):
		response.Error(w, http.StatusConflict, "INVALID_EXCHANGE_TRANSITION", err.Error())
	case errors.Is(err, ErrInvalidExchangeAction):
		response.Error(w, http.StatusBadRequest, "INVALID_EXCHANGE_ACTION", "Action must be approve, reject or complete")
	case errors.Is(err, ErrRejectionReasonRequired):
		response.Error(w, http.StatusBadRequest, "REJECTION_REASON_REQUIRED", "Rejection reason is required")
	default:
		errorhandler.Internal(r.Context(), w, err)
	}
}
