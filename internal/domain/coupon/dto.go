package coupon

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// couponFields are shared by single and batch creation
type couponFields struct {
	Name              string           `json:"name" validate:"max=100"`
	Description       string           `json:"description" validate:"max=500"`
	Type              string           `json:"type" validate:"required,coupon_type"`
	Value             decimal.Decimal  `json:"value"`
	MinPurchaseAmount *decimal.Decimal `json:"min_purchase_amount"`
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount"`
	StartDate         time.Time        `json:"start_date" validate:"required"`
	EndDate           time.Time        `json:"end_date" validate:"required,gtfield=StartDate"`
	CampaignID        *string          `json:"campaign_id" validate:"omitempty,uuid"`
}

func (f couponFields) spec() Spec {
	return Spec{
		Name:              f.Name,
		Description:       f.Description,
		Type:              Type(f.Type),
		Value:             f.Value,
		MinPurchaseAmount: f.MinPurchaseAmount,
		MaxDiscountAmount: f.MaxDiscountAmount,
		StartDate:         f.StartDate,
		EndDate:           f.EndDate,
		CampaignID:        parseOptionalUUID(f.CampaignID),
	}
}

// CreateCouponRequest creates one coupon; code is generated when empty
type CreateCouponRequest struct {
	couponFields
	Code   string  `json:"code" validate:"omitempty,min=4,max=40,code_prefix"`
	UserID *string `json:"user_id" validate:"omitempty,uuid"`
}

// BatchCreateRequest creates quantity coupons with generated codes
type BatchCreateRequest struct {
	couponFields
	Prefix   string `json:"prefix" validate:"max=20,code_prefix"`
	Quantity int    `json:"quantity" validate:"gte=1,lte=1000"`
}

// RedeemRequest validates or uses a code
type RedeemRequest struct {
	Code           string          `json:"code" validate:"required,max=60"`
	PurchaseAmount decimal.Decimal `json:"purchase_amount"`
}

// AssignRequest binds a coupon to a user
type AssignRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

// BatchResponse is returned by POST /coupons/batch
type BatchResponse struct {
	Count   int       `json:"count"`
	Coupons []*Coupon `json:"coupons"`
}

func parseOptionalUUID(s *string) *uuid.UUID {
	if s == nil || *s == "" {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}
