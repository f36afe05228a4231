package coupon

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/pandarank/pandarank-api/internal/domain/user"
)

const (
	maxBatchSize   = 1000
	maxCodeRetries = 5
)

// Service handles coupon business logic
type Service struct {
	repo    Repository
	newCode CodeGenerator
	now     func() time.Time
}

// NewService creates coupon service
func NewService(repo Repository) *Service {
	return &Service{
		repo:    repo,
		newCode: RandomCode,
		now:     time.Now,
	}
}

// Create issues one ACTIVE coupon. A missing code is generated.
func (s *Service) Create(ctx context.Context, spec Spec) (*Coupon, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var c *Coupon
	if code := normalizeCode(spec.Code); code != "" {
		c = spec.build(code, now)
		if err := s.repo.Create(ctx, c); err != nil {
			return nil, err
		}
	} else {
		err := s.repo.WithinTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			c, err = s.insertUnique(ctx, tx, "", spec, now, map[string]struct{}{})
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	log.Info().Str("coupon_id", c.ID.String()).Str("code", c.Code).Msg("coupon created")
	return c, nil
}

// CreateBatch issues quantity coupons sharing spec, each with its own code
// prefix+12 symbols. A code already taken is regenerated up to
// maxCodeRetries times; the batch is all-or-nothing.
func (s *Service) CreateBatch(ctx context.Context, prefix string, quantity int, spec Spec) ([]*Coupon, error) {
	if quantity < 1 || quantity > maxBatchSize {
		return nil, ErrInvalidQuantity
	}
	spec.Code = ""
	if err := spec.validate(); err != nil {
		return nil, err
	}
	prefix = normalizeCode(prefix)
	now := s.now().UTC()

	var coupons []*Coupon
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx TxRepository) error {
		coupons = make([]*Coupon, 0, quantity)
		seen := make(map[string]struct{}, quantity)

		for i := 0; i < quantity; i++ {
			c, err := s.insertUnique(ctx, tx, prefix, spec, now, seen)
			if err != nil {
				return err
			}
			coupons = append(coupons, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("prefix", prefix).Int("quantity", quantity).Msg("coupon batch created")
	return coupons, nil
}

func (s *Service) insertUnique(ctx context.Context, tx TxRepository, prefix string, spec Spec, now time.Time, seen map[string]struct{}) (*Coupon, error) {
	for attempt := 0; attempt <= maxCodeRetries; attempt++ {
		code, err := s.newCode(prefix)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}

		c := spec.build(code, now)
		inserted, err := tx.InsertIfAbsent(ctx, c)
		if err != nil {
			return nil, err
		}
		if inserted {
			seen[code] = struct{}{}
			return c, nil
		}
		log.Debug().Str("code", code).Int("attempt", attempt+1).Msg("coupon code collision, regenerating")
	}
	return nil, ErrCodeSpaceExhausted
}

// Assign binds an unassigned coupon to userID. It happens at most once.
func (s *Service) Assign(ctx context.Context, id, userID uuid.UUID) (*Coupon, error) {
	if err := s.repo.Assign(ctx, id, userID, s.now().UTC()); err != nil {
		return nil, err
	}
	log.Info().Str("coupon_id", id.String()).Str("user_id", userID.String()).Msg("coupon assigned")
	return s.repo.GetByID(ctx, id)
}

// Validate checks that actor could use code for purchase without consuming it.
func (s *Service) Validate(ctx context.Context, code string, actor user.Actor, purchase decimal.Decimal) (*Result, error) {
	return s.redeem(ctx, code, actor, purchase, false)
}

// Use consumes code for purchase.
func (s *Service) Use(ctx context.Context, code string, actor user.Actor, purchase decimal.Decimal) (*Result, error) {
	return s.redeem(ctx, code, actor, purchase, true)
}

func (s *Service) redeem(ctx context.Context, code string, actor user.Actor, purchase decimal.Decimal, consume bool) (*Result, error) {
	if !purchase.IsPositive() {
		return nil, ErrInvalidAmount
	}
	code = normalizeCode(code)

	var (
		result  *Result
		expired bool
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetActiveByCodeForUpdate(ctx, code)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		if c.EndDate.Before(now) {
			// The lapse is committed even though the call fails.
			expired = true
			return tx.UpdateStatus(ctx, c.ID, StatusActive, StatusExpired, nil, now)
		}
		if now.Before(c.StartDate) {
			return ErrCouponNotStarted
		}
		if c.UserID != nil && *c.UserID != actor.ID {
			return ErrCouponForbidden
		}
		if c.MinPurchaseAmount != nil && purchase.LessThan(*c.MinPurchaseAmount) {
			return fmt.Errorf("%w: minimum is %s", ErrMinimumNotMet, c.MinPurchaseAmount.String())
		}

		if consume {
			usedAt := now
			if err := tx.UpdateStatus(ctx, c.ID, StatusActive, StatusUsed, &usedAt, now); err != nil {
				return err
			}
			c.Status = StatusUsed
			c.UsedAt = &usedAt
			c.UpdatedAt = now
		}

		discount := c.Discount(purchase)
		result = &Result{
			Coupon:         c,
			PurchaseAmount: purchase,
			DiscountAmount: discount,
			FinalAmount:    purchase.Sub(discount),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		log.Info().Str("code", code).Msg("coupon lapsed to EXPIRED")
		return nil, ErrCouponExpired
	}

	if consume {
		log.Info().
			Str("coupon_id", result.Coupon.ID.String()).
			Str("user_id", actor.ID.String()).
			Str("discount", result.DiscountAmount.String()).
			Msg("coupon used")
	}
	return result, nil
}

// CancelUse reverts a USED coupon to ACTIVE (admin).
func (s *Service) CancelUse(ctx context.Context, id uuid.UUID, actor user.Actor) (*Coupon, error) {
	return s.transition(ctx, id, actor, StatusUsed, StatusActive)
}

// Cancel withdraws an ACTIVE coupon (admin).
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor user.Actor) (*Coupon, error) {
	return s.transition(ctx, id, actor, StatusActive, StatusCancelled)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, actor user.Actor, from, to Status) (*Coupon, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	var out *Coupon
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if c.Status != from || !from.CanTransitionTo(to) {
			return fmt.Errorf("%w: coupon is %s", ErrInvalidCouponState, c.Status)
		}

		// Neither ACTIVE nor CANCELLED carries a use time.
		now := s.now().UTC()
		if err := tx.UpdateStatus(ctx, c.ID, from, to, nil, now); err != nil {
			return err
		}
		c.Status = to
		c.UsedAt = nil
		c.UpdatedAt = now
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("coupon_id", id.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor_id", actor.ID.String()).
		Msg("coupon status changed")
	return out, nil
}

// Get returns a coupon by ID
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Coupon, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns coupons matching filter
func (s *Service) List(ctx context.Context, filter Filter, limit, offset int) ([]*Coupon, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

// Stats counts coupons per status. UsageRate is a percentage of all issued.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalUsed:      counts[StatusUsed],
		TotalActive:    counts[StatusActive],
		TotalExpired:   counts[StatusExpired],
		TotalCancelled: counts[StatusCancelled],
	}
	for _, n := range counts {
		stats.TotalIssued += n
	}
	if stats.TotalIssued > 0 {
		rate := float64(stats.TotalUsed) / float64(stats.TotalIssued) * 100
		stats.UsageRate = math.Round(rate*100) / 100
	}
	return stats, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
