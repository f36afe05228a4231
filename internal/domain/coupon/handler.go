package coupon

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pandarank/pandarank-api/internal/middleware"
	"github.com/pandarank/pandarank-api/internal/pkg/errorhandler"
	"github.com/pandarank/pandarank-api/internal/pkg/response"
	"github.com/pandarank/pandarank-api/internal/pkg/validator"
)

// Handler handles coupon HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates coupon handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Create handles POST /coupons (admin)
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateCouponRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	spec := req.spec()
	spec.Code = req.Code
	spec.UserID = parseOptionalUUID(req.UserID)

	c, err := h.service.Create(r.Context(), spec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, c)
}

// CreateBatch handles POST /coupons/batch (admin)
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchCreateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	coupons, err := h.service.CreateBatch(r.Context(), req.Prefix, req.Quantity, req.spec())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, BatchResponse{Count: len(coupons), Coupons: coupons})
}

// List handles GET /coupons (admin)
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter Filter

	if v := q.Get("status"); v != "" {
		status := Status(v)
		if !status.IsValid() {
			response.BadRequest(w, "Invalid coupon status")
			return
		}
		filter.Status = &status
	}
	for param, dst := range map[string]**uuid.UUID{"campaign_id": &filter.CampaignID, "user_id": &filter.UserID} {
		if v := q.Get(param); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				response.BadRequest(w, "Invalid "+param)
				return
			}
			*dst = &id
		}
	}

	page, limit, offset := response.Pagination(r)
	coupons, total, err := h.service.List(r.Context(), filter, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.WithMeta(w, coupons, response.NewMeta(total, page, limit))
}

// Get handles GET /coupons/{id} (admin)
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(w, r)
	if !ok {
		return
	}
	c, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, c)
}

// Stats handles GET /coupons/stats (admin)
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, stats)
}

// Assign handles POST /coupons/{id}/assign (admin)
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(w, r)
	if !ok {
		return
	}

	var req AssignRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	c, err := h.service.Assign(r.Context(), id, uuid.MustParse(req.UserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, c)
}

// Validate handles POST /coupons/validate
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	h.redeem(w, r, false)
}

// Use handles POST /coupons/use
func (h *Handler) Use(w http.ResponseWriter, r *http.Request) {
	h.redeem(w, r, true)
}

func (h *Handler) redeem(w http.ResponseWriter, r *http.Request, consume bool) {
	var req RedeemRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	actor, _ := middleware.GetActor(r.Context())
	redeem := h.service.Validate
	if consume {
		redeem = h.service.Use
	}

	result, err := redeem(r.Context(), req.Code, actor, req.PurchaseAmount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, result)
}

// CancelUse handles POST /coupons/{id}/cancel-use (admin)
func (h *Handler) CancelUse(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(w, r)
	if !ok {
		return
	}
	actor, _ := middleware.GetActor(r.Context())
	c, err := h.service.CancelUse(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, c)
}

// Cancel handles POST /coupons/{id}/cancel (admin)
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(w, r)
	if !ok {
		return
	}
	actor, _ := middleware.GetActor(r.Context())
	c, err := h.service.Cancel(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, c)
}

func couponID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid coupon ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrCouponNotFound):
		response.Error(w, http.StatusNotFound, "COUPON_NOT_FOUND", "Coupon not found")
	case errors.Is(err, ErrCouponExpired):
		response.Error(w, http.StatusGone, "COUPON_EXPIRED", "Coupon has expired")
	case errors.Is(err, ErrCouponNotStarted):
		response.Error(w, http.StatusUnprocessableEntity, "COUPON_NOT_STARTED", "Coupon is not valid yet")
	case errors.Is(err, ErrCouponForbidden):
		response.Error(w, http.StatusForbidden, "COUPON_FORBIDDEN", "Coupon is assigned to another user")
	case errors.Is(err, ErrForbidden):
		response.Forbidden(w, "Admin only")
	case errors.Is(err, ErrMinimumNotMet):
		response.Error(w, http.StatusUnprocessableEntity, "MINIMUM_NOT_MET", err.Error())
	case errors.Is(err, ErrAlreadyAssigned):
		response.Error(w, http.StatusConflict, "COUPON_ALREADY_ASSIGNED", "Coupon is already assigned")
	case errors.Is(err, ErrDuplicateCode):
		response.Error(w, http.StatusConflict, "DUPLICATE_COUPON_CODE", "Coupon code already exists")
	case errors.Is(err, ErrCodeSpaceExhausted):
		response.Error(w, http.StatusConflict, "CODE_SPACE_EXHAUSTED", "Could not generate unique coupon codes, try another prefix")
	case errors.Is(err, ErrInvalidCouponState):
		response.Error(w, http.StatusConflict, "INVALID_COUPON_STATE", err.Error())
	case errors.Is(err, ErrInvalidCoupon):
		response.Error(w, http.StatusBadRequest, "INVALID_COUPON", err.Error())
	case errors.Is(err, ErrInvalidAmount):
		response.Error(w, http.StatusBadRequest, "INVALID_AMOUNT", "Purchase amount must be greater than 0")
	case errors.Is(err, ErrInvalidQuantity):
		response.Error(w, http.StatusBadRequest, "INVALID_QUANTITY", "Quantity must be between 1 and 1000")
	default:
		errorhandler.Internal(r.Context(), w, err)
	}
}
