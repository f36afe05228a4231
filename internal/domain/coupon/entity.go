package coupon

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type is how a coupon's value is applied
type Type string

const (
	TypeFixed      Type = "FIXED"
	TypePercentage Type = "PERCENTAGE"
)

// Status represents coupon status
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusUsed      Status = "USED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusActive: {StatusUsed, StatusExpired, StatusCancelled},
	StatusUsed:   {StatusActive},
}

// CanTransitionTo reports whether s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsValid checks if status is known
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusUsed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

var hundred = decimal.NewFromInt(100)

// Coupon is a single-use discount code
type Coupon struct {
	ID                uuid.UUID        `db:"id" json:"id"`
	Code              string           `db:"code" json:"code"`
	Name              string           `db:"name" json:"name"`
	Description       string           `db:"description" json:"description"`
	Type              Type             `db:"type" json:"type"`
	Value             decimal.Decimal  `db:"value" json:"value"`
	MinPurchaseAmount *decimal.Decimal `db:"min_purchase_amount" json:"min_purchase_amount,omitempty"`
	MaxDiscountAmount *decimal.Decimal `db:"max_discount_amount" json:"max_discount_amount,omitempty"`
	StartDate         time.Time        `db:"start_date" json:"start_date"`
	EndDate           time.Time        `db:"end_date" json:"end_date"`
	Status            Status           `db:"status" json:"status"`
	UserID            *uuid.UUID       `db:"user_id" json:"user_id,omitempty"`
	CampaignID        *uuid.UUID       `db:"campaign_id" json:"campaign_id,omitempty"`
	UsedAt            *time.Time       `db:"used_at" json:"used_at,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}

// Discount returns the amount taken off purchase. It never exceeds purchase.
func (c *Coupon) Discount(purchase decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch c.Type {
	case TypeFixed:
		d = c.Value
	case TypePercentage:
		d = purchase.Mul(c.Value).Div(hundred).Round(2)
		if c.MaxDiscountAmount != nil && d.GreaterThan(*c.MaxDiscountAmount) {
			d = *c.MaxDiscountAmount
		}
	}
	if d.GreaterThan(purchase) {
		d = purchase
	}
	return d
}

// Spec describes coupons to create
type Spec struct {
	Code              string
	Name              string
	Description       string
	Type              Type
	Value             decimal.Decimal
	MinPurchaseAmount *decimal.Decimal
	MaxDiscountAmount *decimal.Decimal
	StartDate         time.Time
	EndDate           time.Time
	UserID            *uuid.UUID
	CampaignID        *uuid.UUID
}

func (s Spec) validate() error {
	switch s.Type {
	case TypeFixed, TypePercentage:
	default:
		return ErrInvalidCoupon
	}
	if !s.Value.IsPositive() {
		return ErrInvalidCoupon
	}
	if s.Type == TypePercentage && s.Value.GreaterThan(hundred) {
		return ErrInvalidCoupon
	}
	if s.MinPurchaseAmount != nil && s.MinPurchaseAmount.IsNegative() {
		return ErrInvalidCoupon
	}
	if s.MaxDiscountAmount != nil && !s.MaxDiscountAmount.IsPositive() {
		return ErrInvalidCoupon
	}
	if !s.EndDate.After(s.StartDate) {
		return ErrInvalidCoupon
	}
	return nil
}

func (s Spec) build(code string, now time.Time) *Coupon {
	return &Coupon{
		ID:                uuid.New(),
		Code:              code,
		Name:              s.Name,
		Description:       s.Description,
		Type:              s.Type,
		Value:             s.Value,
		MinPurchaseAmount: s.MinPurchaseAmount,
		MaxDiscountAmount: s.MaxDiscountAmount,
		StartDate:         s.StartDate.UTC(),
		EndDate:           s.EndDate.UTC(),
		Status:            StatusActive,
		UserID:            s.UserID,
		CampaignID:        s.CampaignID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Result is the outcome of a successful validation or use.
type Result struct {
	Coupon         *Coupon         `json:"coupon"`
	PurchaseAmount decimal.Decimal `json:"purchase_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
}

// Stats summarizes coupon issuance
type Stats struct {
	TotalIssued    int     `json:"total_issued"`
	TotalUsed      int     `json:"total_used"`
	TotalActive    int     `json:"total_active"`
	TotalExpired   int     `json:"total_expired"`
	TotalCancelled int     `json:"total_cancelled"`
	UsageRate      float64 `json:"usage_rate"`
}

// Filter narrows a coupon listing
type Filter struct {
	Status     *Status
	CampaignID *uuid.UUID
	UserID     *uuid.UUID
}
