package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pandarank/pandarank-api/internal/domain/campaign"
	"github.com/pandarank/pandarank-api/internal/domain/user"
	"github.com/pandarank/pandarank-api/internal/pkg/iamport"
	"github.com/pandarank/pandarank-api/internal/pkg/logger"
	"github.com/pandarank/pandarank-api/internal/pkg/retry"
	"github.com/pandarank/pandarank-api/internal/pkg/taskqueue"
)

// Task kinds handled by the payment worker.
const (
	TaskProcess = "payment.process"
	TaskNotify  = "payment.notify"
)

// Gateway is the subset of the Iamport client the payment flow needs.
type Gateway interface {
	Prepare(ctx context.Context, req iamport.PrepareRequest) error
	Process(ctx context.Context, req iamport.ProcessRequest) (*iamport.ProcessResult, error)
	Verify(ctx context.Context, impUID string, want iamport.Expectation) (bool, error)
	Cancel(ctx context.Context, req iamport.CancelRequest) (*iamport.CancelResult, error)
}

// Notifier delivers payment notifications.
type Notifier interface {
	Deliver(ctx context.Context, payload any) error
}

// Config holds payment flow settings
type Config struct {
	DefaultCurrency string
	NoticeURL       string
	Retry           retry.Policy
}

// Service handles payment business logic
type Service struct {
	repo     Repository
	apps     campaign.Repository
	gateway  Gateway
	queue    taskqueue.Queue
	notifier Notifier
	cfg      Config
	now      func() time.Time
}

// NewService creates payment service
func NewService(repo Repository, apps campaign.Repository, gateway Gateway, queue taskqueue.Queue, notifier Notifier, cfg Config) *Service {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "KRW"
	}
	return &Service{
		repo:     repo,
		apps:     apps,
		gateway:  gateway,
		queue:    queue,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreateInput describes a new payment.
type CreateInput struct {
	ApplicationID uuid.UUID
	Method        Method
	Amount        decimal.Decimal
	Currency      string
	MethodData    map[string]string
}

// processTask is the payload of TaskProcess. MethodData may hold card
// details; the Redis queue seals payloads at rest.
type processTask struct {
	PaymentID  uuid.UUID         `json:"payment_id"`
	MethodData map[string]string `json:"method_data,omitempty"`
}

// Create records a PENDING payment for an application owned by the brand
// and schedules its processing.
func (s *Service) Create(ctx context.Context, in CreateInput, actor user.Actor) (*Payment, error) {
	if !actor.IsBrand() {
		return nil, ErrForbidden
	}
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	app, err := s.apps.GetApplication(ctx, in.ApplicationID)
	if err != nil {
		return nil, err
	}
	if app.BrandID != actor.ID {
		return nil, ErrForbidden
	}

	exists, err := s.repo.ExistsForApplication(ctx, app.ID)
	if err != nil {
		return nil, fmt.Errorf("check existing payment: %w", err)
	}
	if exists {
		return nil, ErrPaymentExists
	}

	currency := in.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	now := s.now().UTC()
	p := &Payment{
		ID:                    uuid.New(),
		CampaignApplicationID: app.ID,
		BrandID:               app.BrandID,
		InfluencerID:          app.InfluencerID,
		Amount:                in.Amount,
		Currency:              currency,
		PaymentMethod:         in.Method,
		Status:                StatusPending,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	p.MerchantUID = NewMerchantUID(p.ID, now)

	// The unique index on campaign_application_id settles concurrent creates.
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Str("payment_id", p.ID.String()).
		Str("application_id", app.ID.String()).
		Str("amount", p.Amount.String()).
		Msg("payment created")

	if err := s.queue.Enqueue(ctx, TaskProcess, processTask{PaymentID: p.ID, MethodData: in.MethodData}); err != nil {
		// The payment stays PENDING; a gateway webhook can still settle it.
		logger.FromContext(ctx).Error().Err(err).Str("payment_id", p.ID.String()).Msg("failed to schedule payment processing")
	}
	return p, nil
}

// Process runs prepare, process and verify against the gateway under the
// retry policy and records the outcome. Payments no longer PENDING are
// left alone, so redelivered tasks are harmless.
func (s *Service) Process(ctx context.Context, id uuid.UUID, methodData map[string]string) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != StatusPending {
		logger.FromContext(ctx).Debug().Str("payment_id", id.String()).Str("status", string(p.Status)).Msg("payment already settled, skipping")
		return nil
	}

	var impUID string
	err = s.cfg.Retry.Do(ctx, func(attempt int) error {
		uid, err := s.charge(ctx, p, methodData)
		if err != nil {
			if errors.Is(err, ErrVerificationFailed) {
				return retry.Permanent(err)
			}
			logger.FromContext(ctx).Warn().Err(err).Str("payment_id", id.String()).Int("attempt", attempt).Msg("payment attempt failed")
			return err
		}
		impUID = uid
		return nil
	})

	switch {
	case err == nil:
		now := s.now().UTC()
		return s.settle(ctx, id, StatusCompleted, func(p *Payment) {
			p.TransactionID = &impUID
			p.PaymentDate = &now
		})
	case ctx.Err() != nil:
		// Shutdown: leave PENDING for redelivery.
		return ctx.Err()
	default:
		reason := err.Error()
		return s.settle(ctx, id, StatusFailed, func(p *Payment) {
			p.FailureReason = &reason
		})
	}
}

func (s *Service) charge(ctx context.Context, p *Payment, methodData map[string]string) (string, error) {
	err := s.gateway.Prepare(ctx, iamport.PrepareRequest{
		MerchantUID: p.MerchantUID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Name:        "campaign payment " + p.CampaignApplicationID.String(),
		NoticeURL:   s.cfg.NoticeURL,
	})
	if err != nil {
		return "", fmt.Errorf("prepare: %w", err)
	}

	res, err := s.gateway.Process(ctx, iamport.ProcessRequest{
		MerchantUID: p.MerchantUID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		PayMethod:   string(p.PaymentMethod),
		MethodData:  methodData,
	})
	if err != nil {
		return "", fmt.Errorf("process: %w", err)
	}

	ok, err := s.gateway.Verify(ctx, res.ImpUID, iamport.Expectation{
		MerchantUID: p.MerchantUID,
		Amount:      p.Amount,
		Status:      iamport.StatusPaid,
	})
	if err != nil {
		return "", fmt.Errorf("verify: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("%w: imp_uid %s", ErrVerificationFailed, res.ImpUID)
	}
	return res.ImpUID, nil
}

// settle moves a PENDING payment to status. A payment settled meanwhile
// (by a webhook) is left as is.
func (s *Service) settle(ctx context.Context, id uuid.UUID, status Status, apply func(*Payment)) error {
	var settled *Payment
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusPending {
			return nil
		}
		apply(p)
		p.Status = status
		p.UpdatedAt = s.now().UTC()
		if err := tx.Transition(ctx, p, StatusPending); err != nil {
			return err
		}
		settled = p
		return nil
	})
	if err != nil {
		return err
	}
	if settled == nil {
		logger.FromContext(ctx).Info().Str("payment_id", id.String()).Msg("payment settled concurrently, keeping existing state")
		return nil
	}

	logger.FromContext(ctx).Info().Str("payment_id", id.String()).Str("status", string(status)).Msg("payment processed")
	s.notify(ctx, settled)
	return nil
}

// WebhookPayload is what the gateway posts on a status change.
type WebhookPayload struct {
	ImpUID      string `json:"imp_uid"`
	MerchantUID string `json:"merchant_uid"`
	Status      string `json:"status"`
}

// HandleWebhook re-verifies a gateway callback and applies the reported
// status. A redelivery of the current status is acknowledged unchanged.
func (s *Service) HandleWebhook(ctx context.Context, in WebhookPayload) (*Payment, error) {
	if in.ImpUID == "" || in.MerchantUID == "" || in.Status == "" {
		return nil, fmt.Errorf("%w: imp_uid, merchant_uid and status are required", ErrInvalidWebhook)
	}
	target, ok := providerStatuses[in.Status]
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidWebhook, in.Status)
	}
	id, err := ParseMerchantUID(in.MerchantUID)
	if err != nil {
		return nil, err
	}

	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	verified, err := s.gateway.Verify(ctx, in.ImpUID, iamport.Expectation{
		MerchantUID: p.MerchantUID,
		Amount:      p.Amount,
		Status:      in.Status,
	})
	if err != nil {
		return nil, gatewayFailure(err)
	}
	if !verified {
		logger.FromContext(ctx).Warn().Str("payment_id", id.String()).Str("imp_uid", in.ImpUID).Msg("webhook failed gateway verification")
		return nil, ErrVerificationFailed
	}

	changed := false
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		p = locked
		if p.Status == target {
			return nil
		}
		if !p.Status.CanTransitionTo(target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, target)
		}

		from := p.Status
		now := s.now().UTC()
		switch target {
		case StatusCompleted:
			p.TransactionID = &in.ImpUID
			p.PaymentDate = &now
		case StatusFailed:
			reason := "gateway reported failure"
			p.FailureReason = &reason
		case StatusRefunded:
			p.RefundDate = &now
		}
		p.Status = target
		p.UpdatedAt = now
		if err := tx.Transition(ctx, p, from); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		logger.FromContext(ctx).Info().Str("payment_id", id.String()).Str("status", string(target)).Msg("payment updated by webhook")
		s.notify(ctx, p)
	} else {
		logger.FromContext(ctx).Debug().Str("payment_id", id.String()).Msg("duplicate webhook acknowledged")
	}
	return p, nil
}

// Refund cancels a completed payment at the gateway. The row stays locked
// across the gateway call so concurrent refunds cannot both reach it.
func (s *Service) Refund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, reason string, actor user.Actor) (*Payment, error) {
	var refunded *Payment
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !actor.IsBrand() || p.BrandID != actor.ID {
			return ErrForbidden
		}
		if p.Status != StatusCompleted {
			return fmt.Errorf("%w: payment is %s", ErrInvalidTransition, p.Status)
		}
		if !amount.IsPositive() || amount.GreaterThan(p.Amount) {
			return fmt.Errorf("%w: refund must be within (0, %s]", ErrInvalidAmount, p.Amount)
		}
		if !p.hasRefundAccount() {
			return ErrMissingBankInfo
		}
		if p.TransactionID == nil {
			return fmt.Errorf("%w: payment has no gateway reference", ErrInvalidTransition)
		}

		req := iamport.CancelRequest{
			TransactionID: *p.TransactionID,
			Amount:        amount,
			Reason:        reason,
			RefundBank:    *p.RefundBank,
			RefundAccount: *p.RefundAccount,
		}
		if p.RefundHolder != nil {
			req.RefundHolder = *p.RefundHolder
		}
		res, err := s.gateway.Cancel(ctx, req)
		if err != nil {
			return gatewayFailure(err)
		}
		if !res.Success {
			return &GatewayError{Message: res.Message}
		}

		now := s.now().UTC()
		p.Status = StatusRefunded
		p.RefundAmount = &amount
		p.RefundReason = &reason
		p.RefundDate = &now
		p.UpdatedAt = now
		if err := tx.Transition(ctx, p, StatusCompleted); err != nil {
			return err
		}
		refunded = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Str("payment_id", id.String()).
		Str("amount", amount.String()).
		Str("actor_id", actor.ID.String()).
		Msg("payment refunded")
	s.notify(ctx, refunded)
	return refunded, nil
}

// Get returns a payment visible to actor
func (s *Service) Get(ctx context.Context, id uuid.UUID, actor user.Actor) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.CanView(actor.ID, actor.IsAdmin()) {
		return nil, ErrForbidden
	}
	return p, nil
}

// List returns the actor's payments: brands see what they paid,
// influencers what they are paid, admins everything.
func (s *Service) List(ctx context.Context, actor user.Actor, status *Status, limit, offset int) ([]*Payment, int, error) {
	return s.repo.List(ctx, scopedFilter(actor, status), limit, offset)
}

// UpdateRefundAccount sets where a refund is paid back to (brand owner).
func (s *Service) UpdateRefundAccount(ctx context.Context, id uuid.UUID, bank, account, holder string, actor user.Actor) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsBrand() || p.BrandID != actor.ID {
		return nil, ErrForbidden
	}
	if err := s.repo.UpdateRefundAccount(ctx, id, bank, account, holder, s.now().UTC()); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// Stats aggregates the payments visible to actor per status.
func (s *Service) Stats(ctx context.Context, actor user.Actor) (*Stats, error) {
	totals, err := s.repo.TotalsByStatus(ctx, scopedFilter(actor, nil))
	if err != nil {
		return nil, err
	}

	stats := &Stats{ByStatus: make(map[Status]StatusTotal, 4)}
	for _, st := range []Status{StatusPending, StatusCompleted, StatusFailed, StatusRefunded} {
		t, ok := totals[st]
		if !ok {
			t = StatusTotal{Amount: decimal.Zero}
		}
		stats.ByStatus[st] = t
		stats.TotalCount += t.Count
		stats.TotalAmount = stats.TotalAmount.Add(t.Amount)
	}
	stats.RefundedAmount = stats.ByStatus[StatusRefunded].Amount
	return stats, nil
}

func scopedFilter(actor user.Actor, status *Status) Filter {
	f := Filter{Status: status}
	switch {
	case actor.IsAdmin():
	case actor.IsBrand():
		f.BrandID = &actor.ID
	default:
		f.InfluencerID = &actor.ID
	}
	return f
}

// notify schedules a notification. Failures never fail the transition.
func (s *Service) notify(ctx context.Context, p *Payment) {
	if err := s.queue.Enqueue(ctx, TaskNotify, NewNotification(p)); err != nil {
		logger.FromContext(ctx).Error().Err(err).Str("payment_id", p.ID.String()).Msg("failed to schedule payment notification")
	}
}

// HandleProcessTask is the TaskProcess handler.
func (s *Service) HandleProcessTask(ctx context.Context, task *taskqueue.Task) error {
	var payload processTask
	if err := task.Decode(&payload); err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("malformed payment task dropped")
		return nil
	}
	return s.Process(ctx, payload.PaymentID, payload.MethodData)
}

// HandleNotifyTask is the TaskNotify handler. Delivery retries happen in
// the notifier; an exhausted delivery is dropped.
func (s *Service) HandleNotifyTask(ctx context.Context, task *taskqueue.Task) error {
	var n Notification
	if err := task.Decode(&n); err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("malformed notification task dropped")
		return nil
	}
	if err := s.notifier.Deliver(ctx, n); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("payment_id", n.PaymentID.String()).Msg("payment notification not delivered")
	}
	return nil
}

// gatewayFailure separates an unreachable gateway, which the caller may
// retry, from a reply the gateway gave and will give again.
func gatewayFailure(err error) error {
	if iamport.IsTransient(err) {
		return fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	return &GatewayError{Message: "payment gateway refused the request", Err: err}
}
