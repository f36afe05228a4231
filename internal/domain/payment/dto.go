package payment

import "github.com/shopspring/decimal"

// CreatePaymentRequest is the brand's request to pay for an application
type CreatePaymentRequest struct {
	CampaignApplicationID string            `json:"campaign_application_id" validate:"required,uuid"`
	PaymentMethod         string            `json:"payment_method" validate:"required,payment_method"`
	Amount                decimal.Decimal   `json:"amount"`
	Currency              string            `json:"currency" validate:"omitempty,len=3"`
	PaymentMethodData     map[string]string `json:"payment_method_data"`
}

// RefundRequest refunds (part of) a completed payment
type RefundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"required,max=500"`
}

// RefundAccountRequest sets the refund destination
type RefundAccountRequest struct {
	RefundBank    string `json:"refund_bank" validate:"required,max=50"`
	RefundAccount string `json:"refund_account" validate:"required,max=50"`
	RefundHolder  string `json:"refund_holder" validate:"max=100"`
}

// WebhookResponse acknowledges a processed gateway callback
type WebhookResponse struct {
	Message   string `json:"message"`
	PaymentID string `json:"payment_id"`
	Status    Status `json:"status"`
}
