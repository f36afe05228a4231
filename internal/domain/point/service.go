package point

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pandarank/pandarank-api/internal/domain/user"
)

// Config holds ledger policy
type Config struct {
	// Expiry is the default lifetime of earned points.
	Expiry time.Duration
	// MinExchange is the smallest amount that can be cashed out.
	MinExchange int64
	// ExpiringWindow bounds the "expiring soon" statistic.
	ExpiringWindow time.Duration
}

// DefaultConfig returns the production ledger policy.
func DefaultConfig() Config {
	return Config{
		Expiry:         365 * 24 * time.Hour,
		MinExchange:    10000,
		ExpiringWindow: 30 * 24 * time.Hour,
	}
}

// Service handles point ledger business logic
type Service struct {
	repo Repository
	cfg  Config
	now  func() time.Time
}

// NewService creates point service
func NewService(repo Repository, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.Expiry <= 0 {
		cfg.Expiry = def.Expiry
	}
	if cfg.MinExchange <= 0 {
		cfg.MinExchange = def.MinExchange
	}
	if cfg.ExpiringWindow <= 0 {
		cfg.ExpiringWindow = def.ExpiringWindow
	}
	return &Service{repo: repo, cfg: cfg, now: time.Now}
}

// Earn credits amount to userID. expiresAt defaults to now + Expiry.
func (s *Service) Earn(ctx context.Context, userID uuid.UUID, amount int64, description string, prov Provenance, expiresAt *time.Time) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	now := s.now().UTC()
	if expiresAt == nil {
		exp := now.Add(s.cfg.Expiry)
		expiresAt = &exp
	}

	t := &Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      amount,
		Kind:        KindEarn,
		Description: description,
		CampaignID:  prov.CampaignID,
		ReviewID:    prov.ReviewID,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}

	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("user_id", userID.String()).Int64("amount", amount).Msg("points earned")
	return t, nil
}

// Use debits amount from userID's available balance.
func (s *Service) Use(ctx context.Context, userID uuid.UUID, amount int64, description string, prov Provenance) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	now := s.now().UTC()
	t := &Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      -amount,
		Kind:        KindUse,
		Description: description,
		CampaignID:  prov.CampaignID,
		ReviewID:    prov.ReviewID,
		CreatedAt:   now,
	}

	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.reserve(ctx, tx, userID, amount, now); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("user_id", userID.String()).Int64("amount", amount).Msg("points used")
	return t, nil
}

// Refund reverses a USE transaction. Only its owner or an admin may do so,
// and at most once.
func (s *Service) Refund(ctx context.Context, transactionID uuid.UUID, reason string, actor user.Actor) (*Transaction, error) {
	var refund *Transaction

	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if !actor.Owns(original.UserID) {
			return ErrForbidden
		}
		if original.Kind != KindUse {
			return ErrNotRefundable
		}
		if err := tx.LockUser(ctx, original.UserID); err != nil {
			return err
		}

		refunded, err := tx.HasRefund(ctx, original.ID)
		if err != nil {
			return err
		}
		if refunded {
			return ErrAlreadyRefunded
		}

		description := strings.TrimSpace(reason)
		if description == "" {
			description = fmt.Sprintf("refund of %s", original.ID)
		}
		refund = newRefund(original, description, s.now().UTC())
		return tx.InsertTransaction(ctx, refund)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("transaction_id", transactionID.String()).
		Str("actor_id", actor.ID.String()).
		Int64("amount", refund.Amount).
		Msg("point use refunded")
	return refund, nil
}

// Exchange debits amount and opens a PENDING cash-out request in the same
// transaction.
func (s *Service) Exchange(ctx context.Context, userID uuid.UUID, amount int64, bank BankDetails) (*ExchangeRequest, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount < s.cfg.MinExchange {
		return nil, fmt.Errorf("%w: minimum is %d", ErrBelowMinimumExchange, s.cfg.MinExchange)
	}

	now := s.now().UTC()
	debit := &Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      -amount,
		Kind:        KindExchange,
		Description: "point exchange",
		CreatedAt:   now,
	}
	req := &ExchangeRequest{
		ID:                 uuid.New(),
		UserID:             userID,
		Amount:             amount,
		Status:             ExchangePending,
		BankName:           bank.BankName,
		AccountNumber:      bank.AccountNumber,
		AccountHolder:      bank.AccountHolder,
		PointTransactionID: debit.ID,
		RequestedAt:        now,
	}

	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.reserve(ctx, tx, userID, amount, now); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, debit); err != nil {
			return err
		}
		return tx.InsertExchangeRequest(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("user_id", userID.String()).Str("exchange_id", req.ID.String()).Int64("amount", amount).Msg("point exchange requested")
	return req, nil
}

// ProcessExchange applies an admin decision. Rejection requires a reason
// and gives the points back; completion records the transfer reference.
func (s *Service) ProcessExchange(ctx context.Context, id uuid.UUID, action ExchangeAction, actor user.Actor, reason, transferRef string) (*ExchangeRequest, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	target, ok := action.Target()
	if !ok {
		return nil, ErrInvalidExchangeAction
	}
	reason = strings.TrimSpace(reason)
	if target == ExchangeRejected && reason == "" {
		return nil, ErrRejectionReasonRequired
	}

	return s.transitionExchange(ctx, id, target, actor, func(req *ExchangeRequest) {
		switch target {
		case ExchangeRejected:
			req.RejectionReason = &reason
		case ExchangeCompleted:
			if ref := strings.TrimSpace(transferRef); ref != "" {
				req.TransactionID = &ref
			}
		}
	})
}

// CancelExchange withdraws the owner's PENDING request and gives the points back.
func (s *Service) CancelExchange(ctx context.Context, id uuid.UUID, actor user.Actor) (*ExchangeRequest, error) {
	return s.transitionExchange(ctx, id, ExchangeCancelled, actor, nil)
}

func (s *Service) transitionExchange(ctx context.Context, id uuid.UUID, target ExchangeStatus, actor user.Actor, mutate func(*ExchangeRequest)) (*ExchangeRequest, error) {
	var out *ExchangeRequest

	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetExchangeRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if target == ExchangeCancelled && req.UserID != actor.ID {
			return ErrForbidden
		}
		if !req.Status.CanTransitionTo(target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidExchangeTransition, req.Status, target)
		}

		now := s.now().UTC()
		from := req.Status
		req.Status = target
		req.ProcessedAt = &now
		processedBy := actor.ID
		req.ProcessedBy = &processedBy
		if mutate != nil {
			mutate(req)
		}

		if target.releasesPoints() {
			if err := tx.LockUser(ctx, req.UserID); err != nil {
				return err
			}
			debit, err := tx.GetTransactionForUpdate(ctx, req.PointTransactionID)
			if err != nil {
				return err
			}
			description := fmt.Sprintf("exchange %s %s", req.ID, strings.ToLower(string(target)))
			if err := tx.InsertTransaction(ctx, newRefund(debit, description, now)); err != nil {
				return err
			}
		}

		if err := tx.UpdateExchangeRequest(ctx, req); err != nil {
			return err
		}

		log.Info().
			Str("exchange_id", req.ID.String()).
			Str("from", string(from)).
			Str("to", string(target)).
			Str("actor_id", actor.ID.String()).
			Msg("exchange request transitioned")
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Balance returns the available balance.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.AvailableBalance(ctx, userID, s.now().UTC())
}

// Stats summarizes the user's ledger.
func (s *Service) Stats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	now := s.now().UTC()
	return s.repo.Stats(ctx, userID, now, now.Add(s.cfg.ExpiringWindow))
}

// History lists the user's ledger rows, newest first.
func (s *Service) History(ctx context.Context, userID uuid.UUID, filter TransactionFilter, limit, offset int) ([]*Transaction, int, error) {
	return s.repo.ListTransactions(ctx, userID, filter, limit, offset)
}

// ListExchangeRequests lists the actor's own requests; admins see all.
func (s *Service) ListExchangeRequests(ctx context.Context, actor user.Actor, filter ExchangeFilter, limit, offset int) ([]*ExchangeRequest, int, error) {
	if !actor.IsAdmin() {
		id := actor.ID
		filter.UserID = &id
	}
	return s.repo.ListExchangeRequests(ctx, filter, limit, offset)
}

// reserve locks the user row and checks that amount can be debited.
func (s *Service) reserve(ctx context.Context, tx TxRepository, userID uuid.UUID, amount int64, now time.Time) error {
	if err := tx.LockUser(ctx, userID); err != nil {
		return err
	}
	available, err := tx.AvailableBalance(ctx, userID, now)
	if err != nil {
		return err
	}
	if available < amount {
		return fmt.Errorf("%w: available %d, requested %d", ErrInsufficientBalance, available, amount)
	}
	return nil
}

func newRefund(original *Transaction, description string, now time.Time) *Transaction {
	amount := original.Amount
	if amount < 0 {
		amount = -amount
	}
	originalID := original.ID
	return &Transaction{
		ID:                    uuid.New(),
		UserID:                original.UserID,
		Amount:                amount,
		Kind:                  KindRefund,
		Description:           description,
		CampaignID:            original.CampaignID,
		ReviewID:              original.ReviewID,
		RefundedTransactionID: &originalID,
		CreatedAt:             now,
	}
}
