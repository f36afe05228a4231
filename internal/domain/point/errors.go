package point

import "errors"

var (
	ErrInvalidAmount       = errors.New("invalid amount: must be greater than 0")
	ErrInsufficientBalance = errors.New("insufficient point balance")
	ErrUserNotFound        = errors.New("user not found")
	ErrForbidden           = errors.New("not allowed to act on this transaction")

	ErrTransactionNotFound = errors.New("point transaction not found")
	ErrNotRefundable       = errors.New("only USE transactions can be refunded")
	ErrAlreadyRefunded     = errors.New("transaction already refunded")

	ErrBelowMinimumExchange      = errors.New("exchange amount below minimum")
	ErrExchangeNotFound          = errors.New("exchange request not found")
	ErrInvalidExchangeTransition = errors.New("invalid exchange status transition")
	ErrInvalidExchangeAction     = errors.New("invalid exchange action")
	ErrRejectionReasonRequired   = errors.New("rejection reason is required")
)
