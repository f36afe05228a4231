package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents payment status
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusFailed},
	StatusCompleted: {StatusRefunded},
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

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// IsValid checks if status is known
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// Method is how the brand pays
type Method string

const (
	MethodCreditCard     Method = "credit_card"
	MethodBankTransfer   Method = "bank_transfer"
	MethodMobilePayment  Method = "mobile_payment"
	MethodVirtualAccount Method = "virtual_account"
)

// providerStatuses maps gateway webhook statuses onto ours.
var providerStatuses = map[string]Status{
	"paid":      StatusCompleted,
	"failed":    StatusFailed,
	"cancelled": StatusRefunded,
}

// Payment is a brand's payment for an accepted campaign application.
type Payment struct {
	ID                    uuid.UUID        `db:"id" json:"id"`
	CampaignApplicationID uuid.UUID        `db:"campaign_application_id" json:"campaign_application_id"`
	BrandID               uuid.UUID        `db:"brand_id" json:"brand_id"`
	InfluencerID          uuid.UUID        `db:"influencer_id" json:"influencer_id"`
	Amount                decimal.Decimal  `db:"amount" json:"amount"`
	Currency              string           `db:"currency" json:"currency"`
	PaymentMethod         Method           `db:"payment_method" json:"payment_method"`
	Status                Status           `db:"status" json:"status"`
	MerchantUID           string           `db:"merchant_uid" json:"merchant_uid"`
	TransactionID         *string          `db:"transaction_id" json:"transaction_id,omitempty"`
	PaymentDate           *time.Time       `db:"payment_date" json:"payment_date,omitempty"`
	FailureReason         *string          `db:"failure_reason" json:"failure_reason,omitempty"`
	RefundAmount          *decimal.Decimal `db:"refund_amount" json:"refund_amount,omitempty"`
	RefundReason          *string          `db:"refund_reason" json:"refund_reason,omitempty"`
	RefundDate            *time.Time       `db:"refund_date" json:"refund_date,omitempty"`
	RefundBank            *string          `db:"refund_bank" json:"refund_bank,omitempty"`
	RefundAccount         *string          `db:"refund_account" json:"refund_account,omitempty"`
	RefundHolder          *string          `db:"refund_holder" json:"refund_holder,omitempty"`
	CreatedAt             time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time        `db:"updated_at" json:"updated_at"`
}

// CanView reports whether the payer, payee or an admin is asking.
func (p *Payment) CanView(actorID uuid.UUID, isAdmin bool) bool {
	return isAdmin || p.BrandID == actorID || p.InfluencerID == actorID
}

func (p *Payment) hasRefundAccount() bool {
	return p.RefundBank != nil && strings.TrimSpace(*p.RefundBank) != "" &&
		p.RefundAccount != nil && strings.TrimSpace(*p.RefundAccount) != ""
}

const (
	merchantPrefix = "payment_"
	merchantLayout = "20060102150405"
)

// NewMerchantUID builds the gateway reference payment_<id>_<YYYYMMDDhhmmss>.
func NewMerchantUID(id uuid.UUID, at time.Time) string {
	return merchantPrefix + id.String() + "_" + at.UTC().Format(merchantLayout)
}

// ParseMerchantUID extracts the payment id from a merchant reference.
func ParseMerchantUID(s string) (uuid.UUID, error) {
	rest, ok := strings.CutPrefix(s, merchantPrefix)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: merchant_uid %q has no %q prefix", ErrInvalidWebhook, s, merchantPrefix)
	}
	idPart, stamp, ok := strings.Cut(rest, "_")
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: merchant_uid %q has no timestamp", ErrInvalidWebhook, s)
	}
	if _, err := time.Parse(merchantLayout, stamp); err != nil {
		return uuid.Nil, fmt.Errorf("%w: merchant_uid %q has a bad timestamp", ErrInvalidWebhook, s)
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: merchant_uid %q has a bad payment id", ErrInvalidWebhook, s)
	}
	return id, nil
}

// Notification is the body delivered to the payment webhook subscriber.
type Notification struct {
	PaymentID     uuid.UUID            `json:"payment_id"`
	Status        Status               `json:"status"`
	TransactionID *string              `json:"transaction_id"`
	PaymentDate   *time.Time           `json:"payment_date"`
	Amount        decimal.Decimal      `json:"amount"`
	Currency      string               `json:"currency"`
	PaymentMethod Method               `json:"payment_method"`
	RefundAmount  *decimal.Decimal     `json:"refund_amount,omitempty"`
	Metadata      NotificationMetadata `json:"metadata"`
}

// NotificationMetadata identifies the parties of a payment.
type NotificationMetadata struct {
	CampaignApplicationID uuid.UUID `json:"campaign_application_id"`
	BrandID               uuid.UUID `json:"brand_id"`
	InfluencerID          uuid.UUID `json:"influencer_id"`
}

// NewNotification snapshots p for delivery.
func NewNotification(p *Payment) Notification {
	return Notification{
		PaymentID:     p.ID,
		Status:        p.Status,
		TransactionID: p.TransactionID,
		PaymentDate:   p.PaymentDate,
		Amount:        p.Amount,
		Currency:      p.Currency,
		PaymentMethod: p.PaymentMethod,
		RefundAmount:  p.RefundAmount,
		Metadata: NotificationMetadata{
			CampaignApplicationID: p.CampaignApplicationID,
			BrandID:               p.BrandID,
			InfluencerID:          p.InfluencerID,
		},
	}
}

// Filter narrows a payment listing. Party filters are set from the actor.
type Filter struct {
	Status       *Status
	BrandID      *uuid.UUID
	InfluencerID *uuid.UUID
}

// StatusTotal is the count and sum of payments in one status.
type StatusTotal struct {
	Count  int             `db:"count" json:"count"`
	Amount decimal.Decimal `db:"amount" json:"amount"`
}

// Stats aggregates the payments visible to an actor.
type Stats struct {
	TotalCount     int                    `json:"total_count"`
	TotalAmount    decimal.Decimal        `json:"total_amount"`
	RefundedAmount decimal.Decimal        `json:"refunded_amount"`
	ByStatus       map[Status]StatusTotal `json:"by_status"`
}
