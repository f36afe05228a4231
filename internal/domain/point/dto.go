package point

import (
	"time"

	"github.com/google/uuid"
)

// EarnRequest is the admin request to credit points
type EarnRequest struct {
	UserID      string     `json:"user_id" validate:"required,uuid"`
	Amount      int64      `json:"amount" validate:"gt=0"`
	Description string     `json:"description" validate:"max=255"`
	CampaignID  *string    `json:"campaign_id" validate:"omitempty,uuid"`
	ReviewID    *string    `json:"review_id" validate:"omitempty,uuid"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// UseRequest spends points
type UseRequest struct {
	Amount      int64   `json:"amount" validate:"gt=0"`
	Description string  `json:"description" validate:"max=255"`
	CampaignID  *string `json:"campaign_id" validate:"omitempty,uuid"`
	ReviewID    *string `json:"review_id" validate:"omitempty,uuid"`
}

// RefundRequest reverses a USE
type RefundRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// ExchangeBody requests a cash-out
type ExchangeBody struct {
	Amount        int64  `json:"amount" validate:"gt=0"`
	BankName      string `json:"bank_name" validate:"required,max=100"`
	AccountNumber string `json:"account_number" validate:"required,max=50"`
	AccountHolder string `json:"account_holder" validate:"required,max=100"`
}

// ProcessExchangeBody carries optional admin input for a decision
type ProcessExchangeBody struct {
	Reason        string `json:"reason" validate:"max=255"`
	TransactionID string `json:"transaction_id" validate:"max=100"`
}

// BalanceResponse is returned by GET /points/balance
type BalanceResponse struct {
	UserID  uuid.UUID `json:"user_id"`
	Balance int64     `json:"balance"`
}

func (r *UseRequest) provenance() Provenance {
	return Provenance{CampaignID: parseOptionalUUID(r.CampaignID), ReviewID: parseOptionalUUID(r.ReviewID)}
}

func (r *EarnRequest) provenance() Provenance {
	return Provenance{CampaignID: parseOptionalUUID(r.CampaignID), ReviewID: parseOptionalUUID(r.ReviewID)}
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
