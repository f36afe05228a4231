package coupon

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
)

// Repository defines coupon data access
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error

	Create(ctx context.Context, c *Coupon) error
	GetByID(ctx context.Context, id uuid.UUID) (*Coupon, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Coupon, int, error)
	// Assign sets user_id only while it is still NULL.
	Assign(ctx context.Context, id, userID uuid.UUID, now time.Time) error
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// TxRepository is the transactional view handed to WithinTx callbacks.
type TxRepository interface {
	GetActiveByCodeForUpdate(ctx context.Context, code string) (*Coupon, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Coupon, error)
	// UpdateStatus moves the coupon from -> to; ErrInvalidCouponState when
	// the coupon is no longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, usedAt *time.Time, now time.Time) error
	// InsertIfAbsent reports false when the code is already taken.
	InsertIfAbsent(ctx context.Context, c *Coupon) (bool, error)
}

const couponColumns = `
	id, code, name, description, type, value, min_purchase_amount, max_discount_amount,
	start_date, end_date, status, user_id, campaign_id, used_at, created_at, updated_at
`

const insertCoupon = `
	INSERT INTO coupons (
		id, code, name, description, type, value, min_purchase_amount, max_discount_amount,
		start_date, end_date, status, user_id, campaign_id, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`

type repository struct {
	db *sqlx.DB
}

// NewRepository creates coupon repository
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

func (r *repository) Create(ctx context.Context, c *Coupon) error {
	if _, err := r.db.ExecContext(ctx, insertCoupon, insertArgs(c)...); err != nil {
		return mapDBError(err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Coupon, error) {
	var c Coupon
	if err := r.db.GetContext(ctx, &c, `SELECT `+couponColumns+` FROM coupons WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *repository) List(ctx context.Context, filter Filter, limit, offset int) ([]*Coupon, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CampaignID != nil {
		args = append(args, *filter.CampaignID)
		where = append(where, fmt.Sprintf("campaign_id = $%d", len(args)))
	}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM coupons WHERE `+cond, args...); err != nil {
		return nil, 0, fmt.Errorf("count coupons: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM coupons WHERE %s ORDER BY created_at DESC, code LIMIT $%d OFFSET $%d`,
		couponColumns, cond, len(args)+1, len(args)+2)
	coupons := make([]*Coupon, 0)
	if err := r.db.SelectContext(ctx, &coupons, query, append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("list coupons: %w", err)
	}
	return coupons, total, nil
}

func (r *repository) Assign(ctx context.Context, id, userID uuid.UUID, now time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE coupons SET user_id = $2, updated_at = $3 WHERE id = $1 AND user_id IS NULL`,
		id, userID, now)
	if err != nil {
		return mapDBError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM coupons WHERE id = $1)`, id); err != nil {
		return err
	}
	if !exists {
		return ErrCouponNotFound
	}
	return ErrAlreadyAssigned
}

func (r *repository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	var rows []struct {
		Status Status `db:"status"`
		Count  int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM coupons GROUP BY status`); err != nil {
		return nil, fmt.Errorf("count coupons by status: %w", err)
	}

	counts := make(map[Status]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

type txRepository struct {
	tx *sqlx.Tx
}

func (r *txRepository) GetActiveByCodeForUpdate(ctx context.Context, code string) (*Coupon, error) {
	return r.getForUpdate(ctx, `code = $1 AND status = 'ACTIVE'`, code)
}

func (r *txRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Coupon, error) {
	return r.getForUpdate(ctx, `id = $1`, id)
}

func (r *txRepository) getForUpdate(ctx context.Context, cond string, arg interface{}) (*Coupon, error) {
	var c Coupon
	err := r.tx.GetContext(ctx, &c, `SELECT `+couponColumns+` FROM coupons WHERE `+cond+` FOR UPDATE`, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, usedAt *time.Time, now time.Time) error {
	result, err := r.tx.ExecContext(ctx,
		`UPDATE coupons SET status = $3, used_at = $4, updated_at = $5 WHERE id = $1 AND status = $2`,
		id, from, to, usedAt, now)
	if err != nil {
		return mapDBError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidCouponState, from, to)
	}
	return nil
}

func (r *txRepository) InsertIfAbsent(ctx context.Context, c *Coupon) (bool, error) {
	result, err := r.tx.ExecContext(ctx, insertCoupon+` ON CONFLICT (code) DO NOTHING`, insertArgs(c)...)
	if err != nil {
		return false, mapDBError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

func insertArgs(c *Coupon) []interface{} {
	return []interface{}{
		c.ID, c.Code, c.Name, c.Description, c.Type, c.Value, c.MinPurchaseAmount, c.MaxDiscountAmount,
		c.StartDate, c.EndDate, c.Status, c.UserID, c.CampaignID, c.CreatedAt, c.UpdatedAt,
	}
}

func mapDBError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case "23505":
		return fmt.Errorf("%w: %w", ErrDuplicateCode, err)
	case "23503":
		return fmt.Errorf("%w: unknown user or campaign: %w", ErrInvalidCoupon, err)
	case "23514":
		return fmt.Errorf("%w: %w", ErrInvalidCoupon, err)
	default:
		return err
	}
}
