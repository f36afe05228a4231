package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pandarank/pandarank-api/internal/domain/campaign"
)

// Repository defines payment data access
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error

	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	ExistsForApplication(ctx context.Context, applicationID uuid.UUID) (bool, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Payment, int, error)
	TotalsByStatus(ctx context.Context, filter Filter) (map[Status]StatusTotal, error)
	UpdateRefundAccount(ctx context.Context, id uuid.UUID, bank, account, holder string, now time.Time) error
}

// TxRepository is the transactional view handed to WithinTx callbacks.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error)
	// Transition persists p's status and lifecycle fields provided the row
	// is still in from; ErrInvalidTransition otherwise.
	Transition(ctx context.Context, p *Payment, from Status) error
}

const paymentColumns = `
	id, campaign_application_id, brand_id, influencer_id, amount, currency, payment_method,
	status, merchant_uid, transaction_id, payment_date, failure_reason, refund_amount,
	refund_reason, refund_date, refund_bank, refund_account, refund_holder, created_at, updated_at
`

type repository struct {
	db *sqlx.DB
}

// NewRepository creates payment repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *repository) Create(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO payments (
			id, campaign_application_id, brand_id, influencer_id, amount, currency,
			payment_method, status, merchant_uid, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.CampaignApplicationID, p.BrandID, p.InfluencerID, p.Amount, p.Currency,
		p.PaymentMethod, p.Status, p.MerchantUID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return mapDBError(err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	var p Payment
	if err := r.db.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) ExistsForApplication(ctx context.Context, applicationID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE campaign_application_id = $1)`, applicationID)
	return exists, err
}

func (f Filter) where() (string, []interface{}) {
	where := []string{"1=1"}
	args := []interface{}{}

	if f.Status != nil {
		args = append(args, *f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.BrandID != nil {
		args = append(args, *f.BrandID)
		where = append(where, fmt.Sprintf("brand_id = $%d", len(args)))
	}
	if f.InfluencerID != nil {
		args = append(args, *f.InfluencerID)
		where = append(where, fmt.Sprintf("influencer_id = $%d", len(args)))
	}
	return strings.Join(where, " AND "), args
}

func (r *repository) List(ctx context.Context, filter Filter, limit, offset int) ([]*Payment, int, error) {
	cond, args := filter.where()

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM payments WHERE `+cond, args...); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM payments WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		paymentColumns, cond, len(args)+1, len(args)+2)
	payments := make([]*Payment, 0)
	if err := r.db.SelectContext(ctx, &payments, query, append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	return payments, total, nil
}

func (r *repository) TotalsByStatus(ctx context.Context, filter Filter) (map[Status]StatusTotal, error) {
	cond, args := filter.where()
	var rows []struct {
		Status Status `db:"status"`
		StatusTotal
	}
	query := `
		SELECT status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount
		FROM payments WHERE ` + cond + ` GROUP BY status`
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("payment totals: %w", err)
	}

	totals := make(map[Status]StatusTotal, len(rows))
	for _, row := range rows {
		totals[row.Status] = row.StatusTotal
	}
	return totals, nil
}

func (r *repository) UpdateRefundAccount(ctx context.Context, id uuid.UUID, bank, account, holder string, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET refund_bank = $2, refund_account = $3, refund_holder = NULLIF($4, ''), updated_at = $5
		WHERE id = $1`,
		id, bank, account, holder, now)
	if err != nil {
		return mapDBError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

type txRepository struct {
	tx *sqlx.Tx
}

func (r *txRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error) {
	var p Payment
	err := r.tx.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *txRepository) Transition(ctx context.Context, p *Payment, from Status) error {
	result, err := r.tx.ExecContext(ctx, `
		UPDATE payments
		SET status = $3, transaction_id = $4, payment_date = $5, failure_reason = $6,
			refund_amount = $7, refund_reason = $8, refund_date = $9, updated_at = $10
		WHERE id = $1 AND status = $2`,
		p.ID, from, p.Status, p.TransactionID, p.PaymentDate, p.FailureReason,
		p.RefundAmount, p.RefundReason, p.RefundDate, p.UpdatedAt,
	)
	if err != nil {
		return mapDBError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, p.Status)
	}
	return nil
}

func mapDBError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case "23505":
		if strings.Contains(pqErr.Constraint, "campaign_application") {
			return fmt.Errorf("%w: %w", ErrPaymentExists, err)
		}
		// merchant_uid or transaction_id
		return fmt.Errorf("%w: %w", ErrDuplicateTransaction, err)
	case "23503":
		return fmt.Errorf("%w: %w", campaign.ErrApplicationNotFound, err)
	case "23514":
		return fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	default:
		return err
	}
}
