package payment

import (
	"errors"
	"fmt"
)

var (
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrPaymentExists     = errors.New("payment already exists for this application")
	ErrForbidden         = errors.New("not allowed to act on this payment")
	ErrInvalidTransition = errors.New("invalid payment status transition")
	ErrInvalidAmount     = errors.New("invalid payment amount")
	ErrMissingBankInfo   = errors.New("refund bank account is not set")

	ErrDuplicateTransaction = errors.New("gateway reference already recorded on another payment")

	ErrInvalidWebhook     = errors.New("invalid webhook payload")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrVerificationFailed = errors.New("gateway verification failed")

	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected the request")
)

// GatewayError carries the gateway's reason for refusing an operation.
// Err is the client error behind it, if any.
type GatewayError struct {
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrGatewayRejected, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrGatewayRejected, e.Message)
}

func (e *GatewayError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrGatewayRejected, e.Err}
	}
	return []error{ErrGatewayRejected}
}
