// Package iamport is a thin signed client for the Iamport payment gateway.
package iamport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	defaultBaseURL = "https://api.iamport.kr"
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

// Provider status vocabulary.
const (
	StatusReady     = "ready"
	StatusPaid      = "paid"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Config holds Iamport API configuration
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Client represents Iamport payment gateway client
type Client struct {
	httpClient *http.Client
	config     Config
}

// PrepareRequest registers the expected amount for a merchant reference.
type PrepareRequest struct {
	MerchantUID string
	Amount      decimal.Decimal
	Currency    string
	Name        string
	NoticeURL   string
}

// ProcessRequest charges a prepared payment.
type ProcessRequest struct {
	MerchantUID string
	Amount      decimal.Decimal
	Currency    string
	PayMethod   string
	MethodData  map[string]string
}

// ProcessResult is the gateway's reference for a charge.
type ProcessResult struct {
	ImpUID      string
	MerchantUID string
	Status      string
}

// Record is the gateway's view of a payment.
type Record struct {
	ImpUID      string
	MerchantUID string
	Amount      decimal.Decimal
	Status      string
}

// Expectation is what a record must match to count as verified.
type Expectation struct {
	MerchantUID string
	Amount      decimal.Decimal
	Status      string
}

// CancelRequest refunds (part of) a captured payment.
type CancelRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Reason        string
	RefundHolder  string
	RefundBank    string
	RefundAccount string
}

// CancelResult reports whether the gateway accepted the cancellation.
type CancelResult struct {
	Success bool
	Message string
}

// NewClient creates new Iamport API client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
	}
}

// Prepare registers merchant_uid and amount with the gateway.
func (c *Client) Prepare(ctx context.Context, req PrepareRequest) error {
	if strings.TrimSpace(req.MerchantUID) == "" {
		return fmt.Errorf("validation error: merchant_uid must be non-empty")
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("validation error: amount must be > 0")
	}

	_, err := c.do(ctx, "prepare", http.MethodPost, "/payments/prepare", map[string]any{
		"merchant_uid": req.MerchantUID,
		"amount":       json.Number(req.Amount.String()),
		"currency":     req.Currency,
		"name":         req.Name,
		"notice_url":   req.NoticeURL,
	})
	return err
}

// Process charges a prepared payment and returns the gateway reference.
func (c *Client) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	body, err := c.do(ctx, "process", http.MethodPost, "/payments/process", map[string]any{
		"merchant_uid": req.MerchantUID,
		"amount":       json.Number(req.Amount.String()),
		"currency":     req.Currency,
		"pay_method":   req.PayMethod,
		"method_data":  req.MethodData,
	})
	if err != nil {
		return nil, err
	}

	out := &ProcessResult{
		ImpUID:      field(body, "imp_uid").String(),
		MerchantUID: field(body, "merchant_uid").String(),
		Status:      field(body, "status").String(),
	}
	if out.ImpUID == "" {
		return nil, fmt.Errorf("iamport process: response has no imp_uid: %s", truncate(body))
	}
	return out, nil
}

// Lookup fetches the gateway record for impUID.
func (c *Client) Lookup(ctx context.Context, impUID string) (*Record, error) {
	if strings.TrimSpace(impUID) == "" {
		return nil, fmt.Errorf("validation error: imp_uid must be non-empty")
	}

	body, err := c.do(ctx, "lookup", http.MethodGet, "/payments/"+url.PathEscape(impUID), nil)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ImpUID:      field(body, "imp_uid").String(),
		MerchantUID: field(body, "merchant_uid").String(),
		Status:      field(body, "status").String(),
	}
	amount := field(body, "amount")
	if !amount.Exists() {
		return nil, fmt.Errorf("iamport lookup: response has no amount: %s", truncate(body))
	}
	if rec.Amount, err = decimal.NewFromString(amount.String()); err != nil {
		return nil, fmt.Errorf("iamport lookup: bad amount %q: %w", amount.String(), err)
	}
	return rec, nil
}

// Verify reports whether the gateway record for impUID matches want on
// amount, status and merchant reference.
func (c *Client) Verify(ctx context.Context, impUID string, want Expectation) (bool, error) {
	rec, err := c.Lookup(ctx, impUID)
	if err != nil {
		return false, err
	}
	return rec.Matches(want), nil
}

// Matches compares the record with an expectation. Status defaults to paid.
func (r *Record) Matches(want Expectation) bool {
	status := want.Status
	if status == "" {
		status = StatusPaid
	}
	return r.Amount.Equal(want.Amount) &&
		r.Status == status &&
		r.MerchantUID == want.MerchantUID
}

// Cancel asks the gateway to refund a captured payment. A gateway refusal is
// reported through CancelResult, not as an error.
func (c *Client) Cancel(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	if strings.TrimSpace(req.TransactionID) == "" {
		return nil, fmt.Errorf("validation error: transaction_id must be non-empty")
	}

	payload := map[string]any{
		"reason":         req.Reason,
		"refund_holder":  req.RefundHolder,
		"refund_bank":    req.RefundBank,
		"refund_account": req.RefundAccount,
	}
	if req.Amount.IsPositive() {
		payload["amount"] = json.Number(req.Amount.String())
	}

	body, err := c.do(ctx, "cancel", http.MethodPost, "/payments/cancel/"+url.PathEscape(req.TransactionID), payload)
	if err != nil {
		return nil, err
	}

	out := &CancelResult{Message: gjson.GetBytes(body, "message").String()}
	if success := gjson.GetBytes(body, "success"); success.Exists() {
		out.Success = success.Bool()
	} else {
		out.Success = gjson.GetBytes(body, "code").Int() == 0
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("iamport client is not initialized")
	}

	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("failed to encode iamport %s request: %w", op, err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("iamport %s request error: %w", op, err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set(SignatureHeader, Sign(body, c.config.APISecret))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyRequestError(ctx, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyRequestError(ctx, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       truncate(respBody),
		}
	}

	if len(respBody) > 0 && !gjson.ValidBytes(respBody) {
		return nil, fmt.Errorf("iamport %s: invalid JSON response: %s", op, truncate(respBody))
	}
	return respBody, nil
}

// field reads name from an enveloped ({"response": {...}}) or flat body.
func field(body []byte, name string) gjson.Result {
	if r := gjson.GetBytes(body, "response."+name); r.Exists() {
		return r
	}
	return gjson.GetBytes(body, name)
}

func truncate(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTransient) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Temporary()
}
