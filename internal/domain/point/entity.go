package point

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the type of a ledger row.
type Kind string

const (
	KindEarn     Kind = "EARN"
	KindUse      Kind = "USE"
	KindRefund   Kind = "REFUND"
	KindExchange Kind = "EXCHANGE"
)

// IsValid checks if kind is known
func (k Kind) IsValid() bool {
	switch k {
	case KindEarn, KindUse, KindRefund, KindExchange:
		return true
	}
	return false
}

// Transaction is an immutable ledger row. USE and EXCHANGE amounts are
// stored negative, EARN and REFUND positive.
type Transaction struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	UserID                uuid.UUID  `db:"user_id" json:"user_id"`
	Amount                int64      `db:"amount" json:"amount"`
	Kind                  Kind       `db:"kind" json:"kind"`
	Description           string     `db:"description" json:"description"`
	CampaignID            *uuid.UUID `db:"campaign_id" json:"campaign_id,omitempty"`
	ReviewID              *uuid.UUID `db:"review_id" json:"review_id,omitempty"`
	ExpiresAt             *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	RefundedTransactionID *uuid.UUID `db:"refunded_transaction_id" json:"refunded_transaction_id,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
}

// Provenance links a ledger row to the activity that caused it.
type Provenance struct {
	CampaignID *uuid.UUID
	ReviewID   *uuid.UUID
}

// ExchangeStatus is the lifecycle state of a cash-out request.
type ExchangeStatus string

const (
	ExchangePending   ExchangeStatus = "PENDING"
	ExchangeApproved  ExchangeStatus = "APPROVED"
	ExchangeRejected  ExchangeStatus = "REJECTED"
	ExchangeCompleted ExchangeStatus = "COMPLETED"
	ExchangeCancelled ExchangeStatus = "CANCELLED"
)

var exchangeTransitions = map[ExchangeStatus][]ExchangeStatus{
	ExchangePending:  {ExchangeApproved, ExchangeRejected, ExchangeCancelled},
	ExchangeApproved: {ExchangeCompleted, ExchangeRejected},
}

// CanTransitionTo reports whether s may move to next.
func (s ExchangeStatus) CanTransitionTo(next ExchangeStatus) bool {
	for _, allowed := range exchangeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// releasesPoints reports whether entering s gives the exchanged points back.
func (s ExchangeStatus) releasesPoints() bool {
	return s == ExchangeRejected || s == ExchangeCancelled
}

// BankDetails is the payout destination of an exchange.
type BankDetails struct {
	BankName      string
	AccountNumber string
	AccountHolder string
}

// ExchangeRequest is a request to convert points into a bank transfer.
type ExchangeRequest struct {
	ID                 uuid.UUID      `db:"id" json:"id"`
	UserID             uuid.UUID      `db:"user_id" json:"user_id"`
	Amount             int64          `db:"amount" json:"amount"`
	Status             ExchangeStatus `db:"status" json:"status"`
	BankName           string         `db:"bank_name" json:"bank_name"`
	AccountNumber      string         `db:"account_number" json:"account_number"`
	AccountHolder      string         `db:"account_holder" json:"account_holder"`
	PointTransactionID uuid.UUID      `db:"point_transaction_id" json:"point_transaction_id"`
	RequestedAt        time.Time      `db:"requested_at" json:"requested_at"`
	ProcessedAt        *time.Time     `db:"processed_at" json:"processed_at,omitempty"`
	ProcessedBy        *uuid.UUID     `db:"processed_by" json:"processed_by,omitempty"`
	RejectionReason    *string        `db:"rejection_reason" json:"rejection_reason,omitempty"`
	TransactionID      *string        `db:"transaction_id" json:"transaction_id,omitempty"`
}

// ExchangeAction is an admin decision on an exchange request.
type ExchangeAction string

const (
	ActionApprove  ExchangeAction = "approve"
	ActionReject   ExchangeAction = "reject"
	ActionComplete ExchangeAction = "complete"
)

// Target returns the status the action moves a request into.
func (a ExchangeAction) Target() (ExchangeStatus, bool) {
	switch a {
	case ActionApprove:
		return ExchangeApproved, true
	case ActionReject:
		return ExchangeRejected, true
	case ActionComplete:
		return ExchangeCompleted, true
	}
	return "", false
}

// Stats summarizes a user's ledger. Used and exchanged totals are <= 0.
type Stats struct {
	TotalEarned      int64 `db:"total_earned" json:"total_earned"`
	TotalUsed        int64 `db:"total_used" json:"total_used"`
	TotalRefunded    int64 `db:"total_refunded" json:"total_refunded"`
	TotalExchanged   int64 `db:"total_exchanged" json:"total_exchanged"`
	CurrentBalance   int64 `db:"current_balance" json:"current_balance"`
	AvailableBalance int64 `db:"available_balance" json:"available_balance"`
	ExpiringSoon     int64 `db:"expiring_soon" json:"expiring_soon"`
	Expired          int64 `db:"expired" json:"expired"`
}

// TransactionFilter narrows a history listing.
type TransactionFilter struct {
	Kind *Kind
	From *time.Time
	To   *time.Time
}

// ExchangeFilter narrows an exchange listing.
type ExchangeFilter struct {
	Status *ExchangeStatus
	UserID *uuid.UUID
}
