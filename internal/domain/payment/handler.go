package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pandarank/pandarank-api/internal/domain/campaign"
	"github.com/pandarank/pandarank-api/internal/middleware"
	"github.com/pandarank/pandarank-api/internal/pkg/errorhandler"
	"github.com/pandarank/pandarank-api/internal/pkg/iamport"
	"github.com/pandarank/pandarank-api/internal/pkg/response"
	"github.com/pandarank/pandarank-api/internal/pkg/validator"
)

const maxWebhookBody = 64 << 10

// Handler handles payment HTTP requests
type Handler struct {
	service *Service
	// webhookSecret, when set, requires a valid signature on gateway callbacks.
	webhookSecret string
}

// NewHandler creates payment handler
func NewHandler(service *Service, webhookSecret string) *Handler {
	return &Handler{service: service, webhookSecret: webhookSecret}
}

// Create handles POST /payments
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	actor, _ := middleware.GetActor(r.Context())
	p, err := h.service.Create(r.Context(), CreateInput{
		ApplicationID: uuid.MustParse(req.CampaignApplicationID),
		Method:        Method(req.PaymentMethod),
		Amount:        req.Amount,
		Currency:      req.Currency,
		MethodData:    req.PaymentMethodData,
	}, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, p)
}

// List handles GET /payments
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var status *Status
	if v := r.URL.Query().Get("status"); v != "" {
		s := Status(v)
		if !s.IsValid() {
			response.BadRequest(w, "Invalid payment status")
			return
		}
		status = &s
	}

	actor, _ := middleware.GetActor(r.Context())
	page, limit, offset := response.Pagination(r)
	payments, total, err := h.service.List(r.Context(), actor, status, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.WithMeta(w, payments, response.NewMeta(total, page, limit))
}

// Get handles GET /payments/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentID(w, r)
	if !ok {
		return
	}
	actor, _ := middleware.GetActor(r.Context())
	p, err := h.service.Get(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, p)
}

// Stats handles GET /payments/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	stats, err := h.service.Stats(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, stats)
}

// UpdateRefundAccount handles PUT /payments/{id}/refund-account
func (h *Handler) UpdateRefundAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentID(w, r)
	if !ok {
		return
	}

	var req RefundAccountRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	actor, _ := middleware.GetActor(r.Context())
	p, err := h.service.UpdateRefundAccount(r.Context(), id, req.RefundBank, req.RefundAccount, req.RefundHolder, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, p)
}

// Refund handles POST /payments/{id}/refund
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentID(w, r)
	if !ok {
		return
	}

	var req RefundRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	actor, _ := middleware.GetActor(r.Context())
	p, err := h.service.Refund(r.Context(), id, req.Amount, req.Reason, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, p)
}

// IamportWebhook handles POST /webhooks/iamport
func (h *Handler) IamportWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "Invalid webhook body")
		return
	}
	if h.webhookSecret != "" && !iamport.VerifySignature(body, r.Header.Get(iamport.SignatureHeader), h.webhookSecret) {
		h.writeError(w, r, ErrInvalidSignature)
		return
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		response.BadRequest(w, "Invalid webhook body")
		return
	}

	p, err := h.service.HandleWebhook(r.Context(), payload)
	if err != nil {
		log.Warn().Err(err).Str("merchant_uid", payload.MerchantUID).Msg("iamport webhook rejected")
		h.writeError(w, r, err)
		return
	}
	response.OK(w, WebhookResponse{
		Message:   "webhook processed",
		PaymentID: p.ID.String(),
		Status:    p.Status,
	})
}

func paymentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid payment ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var gwErr *GatewayError
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		response.Error(w, http.StatusNotFound, "PAYMENT_NOT_FOUND", "Payment not found")
	case errors.Is(err, campaign.ErrApplicationNotFound):
		response.Error(w, http.StatusNotFound, "APPLICATION_NOT_FOUND", "Campaign application not found")
	case errors.Is(err, ErrForbidden):
		response.Error(w, http.StatusForbidden, "PAYMENT_FORBIDDEN", "Not allowed to act on this payment")
	case errors.Is(err, ErrPaymentExists):
		response.Error(w, http.StatusConflict, "PAYMENT_EXISTS", "Payment already exists for this application")
	case errors.Is(err, ErrDuplicateTransaction):
		response.Error(w, http.StatusConflict, "DUPLICATE_TRANSACTION", "Gateway transaction is already recorded on another payment")
	case errors.Is(err, ErrInvalidTransition):
		response.Error(w, http.StatusConflict, "INVALID_PAYMENT_STATE", err.Error())
	case errors.Is(err, ErrInvalidAmount):
		response.Error(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
	case errors.Is(err, ErrMissingBankInfo):
		response.Error(w, http.StatusBadRequest, "MISSING_BANK_INFO", "Set the refund bank account first")
	case errors.Is(err, ErrInvalidWebhook):
		response.Error(w, http.StatusBadRequest, "INVALID_WEBHOOK", err.Error())
	case errors.Is(err, ErrInvalidSignature):
		response.Unauthorized(w, "Invalid webhook signature")
	case errors.Is(err, ErrVerificationFailed):
		response.Error(w, http.StatusBadRequest, "VERIFICATION_FAILED", "Payment could not be verified with the gateway")
	case errors.As(err, &gwErr):
		response.Error(w, http.StatusBadGateway, "GATEWAY_ERROR", gwErr.Message)
	case errors.Is(err, ErrGatewayUnavailable):
		response.Error(w, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", "Payment gateway is unavailable, try again later")
	default:
		errorhandler.Internal(r.Context(), w, err)
	}
}
