package point

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

// Repository defines point ledger data access
type Repository interface {
	// WithinTx runs fn in one database transaction; fn's error rolls it back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error

	AvailableBalance(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
	Stats(ctx context.Context, userID uuid.UUID, now, expiringBefore time.Time) (*Stats, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, filter TransactionFilter, limit, offset int) ([]*Transaction, int, error)
	ListExchangeRequests(ctx context.Context, filter ExchangeFilter, limit, offset int) ([]*ExchangeRequest, int, error)
}

// TxRepository is the transactional view handed to WithinTx callbacks.
type TxRepository interface {
	// LockUser takes the per-user row lock that serializes balance decisions.
	LockUser(ctx context.Context, userID uuid.UUID) error
	AvailableBalance(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
	InsertTransaction(ctx context.Context, t *Transaction) error
	GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*Transaction, error)
	HasRefund(ctx context.Context, transactionID uuid.UUID) (bool, error)

	InsertExchangeRequest(ctx context.Context, req *ExchangeRequest) error
	GetExchangeRequestForUpdate(ctx context.Context, id uuid.UUID) (*ExchangeRequest, error)
	UpdateExchangeRequest(ctx context.Context, req *ExchangeRequest) error
}

// querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type querier interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const transactionColumns = `
	id, user_id, amount, kind, description, campaign_id, review_id,
	expires_at, refunded_transaction_id, created_at
`

const exchangeColumns = `
	id, user_id, amount, status, bank_name, account_number, account_holder,
	point_transaction_id, requested_at, processed_at, processed_by,
	rejection_reason, transaction_id
`

// Unexpired EARN rows plus every other kind.
const availableBalanceQuery = `
	SELECT COALESCE(SUM(amount) FILTER (
		WHERE kind <> 'EARN' OR expires_at IS NULL OR expires_at > $2
	), 0)
	FROM point_transactions
	WHERE user_id = $1
`

type repository struct {
	db *sqlx.DB
}

// NewRepository creates point repository
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

func (r *repository) AvailableBalance(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	return availableBalance(ctx, r.db, userID, now)
}

func (r *repository) Stats(ctx context.Context, userID uuid.UUID, now, expiringBefore time.Time) (*Stats, error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE kind = 'EARN'), 0)     AS total_earned,
			COALESCE(SUM(amount) FILTER (WHERE kind = 'USE'), 0)      AS total_used,
			COALESCE(SUM(amount) FILTER (WHERE kind = 'REFUND'), 0)   AS total_refunded,
			COALESCE(SUM(amount) FILTER (WHERE kind = 'EXCHANGE'), 0) AS total_exchanged,
			COALESCE(SUM(amount), 0)                                  AS current_balance,
			COALESCE(SUM(amount) FILTER (
				WHERE kind <> 'EARN' OR expires_at IS NULL OR expires_at > $2
			), 0) AS available_balance,
			COALESCE(SUM(amount) FILTER (
				WHERE kind = 'EARN' AND expires_at > $2 AND expires_at <= $3
			), 0) AS expiring_soon,
			COALESCE(SUM(amount) FILTER (
				WHERE kind = 'EARN' AND expires_at <= $2
			), 0) AS expired
		FROM point_transactions
		WHERE user_id = $1
	`
	var stats Stats
	if err := r.db.GetContext(ctx, &stats, query, userID, now, expiringBefore); err != nil {
		return nil, fmt.Errorf("point stats: %w", err)
	}
	return &stats, nil
}

func (r *repository) ListTransactions(ctx context.Context, userID uuid.UUID, filter TransactionFilter, limit, offset int) ([]*Transaction, int, error) {
	where := []string{"user_id = $1"}
	args := []interface{}{userID}

	if filter.Kind != nil {
		args = append(args, *filter.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM point_transactions WHERE `+cond, args...); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM point_transactions WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		transactionColumns, cond, len(args)+1, len(args)+2)
	items := make([]*Transaction, 0)
	if err := r.db.SelectContext(ctx, &items, query, append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	return items, total, nil
}

func (r *repository) ListExchangeRequests(ctx context.Context, filter ExchangeFilter, limit, offset int) ([]*ExchangeRequest, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM point_exchange_requests WHERE `+cond, args...); err != nil {
		return nil, 0, fmt.Errorf("count exchange requests: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM point_exchange_requests WHERE %s ORDER BY requested_at DESC, id LIMIT $%d OFFSET $%d`,
		exchangeColumns, cond, len(args)+1, len(args)+2)
	items := make([]*ExchangeRequest, 0)
	if err := r.db.SelectContext(ctx, &items, query, append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("list exchange requests: %w", err)
	}
	return items, total, nil
}

type txRepository struct {
	tx *sqlx.Tx
}

func (r *txRepository) LockUser(ctx context.Context, userID uuid.UUID) error {
	var id uuid.UUID
	err := r.tx.GetContext(ctx, &id, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lock user row: %w", err)
	}
	return nil
}

func (r *txRepository) AvailableBalance(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	return availableBalance(ctx, r.tx, userID, now)
}

func (r *txRepository) InsertTransaction(ctx context.Context, t *Transaction) error {
	query := `
		INSERT INTO point_transactions (
			id, user_id, amount, kind, description, campaign_id, review_id,
			expires_at, refunded_transaction_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.tx.ExecContext(ctx, query,
		t.ID, t.UserID, t.Amount, t.Kind, t.Description, t.CampaignID, t.ReviewID,
		t.ExpiresAt, t.RefundedTransactionID, t.CreatedAt,
	)
	if err != nil {
		return mapDBError(err)
	}
	return nil
}

func (r *txRepository) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	var t Transaction
	err := r.tx.GetContext(ctx, &t, `SELECT `+transactionColumns+` FROM point_transactions WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return &t, nil
}

func (r *txRepository) HasRefund(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	var exists bool
	err := r.tx.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM point_transactions WHERE refunded_transaction_id = $1)`, transactionID)
	if err != nil {
		return false, fmt.Errorf("check refund: %w", err)
	}
	return exists, nil
}

func (r *txRepository) InsertExchangeRequest(ctx context.Context, req *ExchangeRequest) error {
	query := `
		INSERT INTO point_exchange_requests (
			id, user_id, amount, status, bank_name, account_number, account_holder,
			point_transaction_id, requested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.tx.ExecContext(ctx, query,
		req.ID, req.UserID, req.Amount, req.Status, req.BankName, req.AccountNumber, req.AccountHolder,
		req.PointTransactionID, req.RequestedAt,
	)
	if err != nil {
		return mapDBError(err)
	}
	return nil
}

func (r *txRepository) GetExchangeRequestForUpdate(ctx context.Context, id uuid.UUID) (*ExchangeRequest, error) {
	var req ExchangeRequest
	err := r.tx.GetContext(ctx, &req, `SELECT `+exchangeColumns+` FROM point_exchange_requests WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExchangeNotFound
		}
		return nil, fmt.Errorf("get exchange request: %w", err)
	}
	return &req, nil
}

func (r *txRepository) UpdateExchangeRequest(ctx context.Context, req *ExchangeRequest) error {
	query := `
		UPDATE point_exchange_requests
		SET status = $2, processed_at = $3, processed_by = $4, rejection_reason = $5, transaction_id = $6
		WHERE id = $1
	`
	result, err := r.tx.ExecContext(ctx, query,
		req.ID, req.Status, req.ProcessedAt, req.ProcessedBy, req.RejectionReason, req.TransactionID,
	)
	if err != nil {
		return mapDBError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrExchangeNotFound
	}
	return nil
}

func availableBalance(ctx context.Context, q querier, userID uuid.UUID, now time.Time) (int64, error) {
	var balance int64
	if err := q.GetContext(ctx, &balance, availableBalanceQuery, userID, now); err != nil {
		return 0, fmt.Errorf("available balance: %w", err)
	}
	return balance, nil
}

func mapDBError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case "23505":
		if strings.Contains(pqErr.Constraint, "refunded_transaction") {
			return fmt.Errorf("%w: %w", ErrAlreadyRefunded, err)
		}
		return err
	case "23503":
		return fmt.Errorf("%w: %w", ErrUserNotFound, err)
	case "23514":
		return fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	default:
		return err
	}
}
