package point

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errInjected = errors.New("injected failure")

// fakeRepository keeps the ledger in memory. WithinTx serializes callers
// and restores the previous state when the callback fails.
type fakeRepository struct {
	mu        sync.Mutex
	users     map[uuid.UUID]bool
	txs       []*Transaction
	exchanges map[uuid.UUID]*ExchangeRequest

	failExchangeInsert bool
}

func newFakeRepository(users ...uuid.UUID) *fakeRepository {
	f := &fakeRepository{
		users:     make(map[uuid.UUID]bool),
		exchanges: make(map[uuid.UUID]*ExchangeRequest),
	}
	for _, id := range users {
		f.users[id] = true
	}
	return f
}

func (f *fakeRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	txs := append([]*Transaction(nil), f.txs...)
	exchanges := make(map[uuid.UUID]*ExchangeRequest, len(f.exchanges))
	for k, v := range f.exchanges {
		exchanges[k] = v
	}

	if err := fn(ctx, &fakeTx{f: f}); err != nil {
		f.txs = txs
		f.exchanges = exchanges
		return err
	}
	return nil
}

func (f *fakeRepository) AvailableBalance(_ context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available(userID, now), nil
}

func (f *fakeRepository) available(userID uuid.UUID, now time.Time) int64 {
	var sum int64
	for _, t := range f.txs {
		if t.UserID != userID {
			continue
		}
		if t.Kind == KindEarn && t.ExpiresAt != nil && !t.ExpiresAt.After(now) {
			continue
		}
		sum += t.Amount
	}
	return sum
}

func (f *fakeRepository) Stats(_ context.Context, userID uuid.UUID, now, expiringBefore time.Time) (*Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var s Stats
	for _, t := range f.txs {
		if t.UserID != userID {
			continue
		}
		s.CurrentBalance += t.Amount
		switch t.Kind {
		case KindEarn:
			s.TotalEarned += t.Amount
			if t.ExpiresAt != nil && !t.ExpiresAt.After(now) {
				s.Expired += t.Amount
			} else if t.ExpiresAt != nil && !t.ExpiresAt.After(expiringBefore) {
				s.ExpiringSoon += t.Amount
			}
		case KindUse:
			s.TotalUsed += t.Amount
		case KindRefund:
			s.TotalRefunded += t.Amount
		case KindExchange:
			s.TotalExchanged += t.Amount
		}
	}
	s.AvailableBalance = f.available(userID, now)
	return &s, nil
}

func (f *fakeRepository) ListTransactions(_ context.Context, userID uuid.UUID, filter TransactionFilter, limit, offset int) ([]*Transaction, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*Transaction
	for _, t := range f.txs {
		if t.UserID != userID || (filter.Kind != nil && t.Kind != *filter.Kind) {
			continue
		}
		out = append(out, t)
	}
	total := len(out)
	return page(out, limit, offset), total, nil
}

func (f *fakeRepository) ListExchangeRequests(_ context.Context, filter ExchangeFilter, limit, offset int) ([]*ExchangeRequest, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*ExchangeRequest
	for _, r := range f.exchanges {
		if filter.UserID != nil && r.UserID != *filter.UserID {
			continue
		}
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	total := len(out)
	return page(out, limit, offset), total, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (f *fakeRepository) count(kind Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.txs {
		if t.Kind == kind {
			n++
		}
	}
	return n
}

// fakeTx runs with fakeRepository.mu held by WithinTx.
type fakeTx struct {
	f *fakeRepository
}

func (t *fakeTx) LockUser(_ context.Context, userID uuid.UUID) error {
	if !t.f.users[userID] {
		return ErrUserNotFound
	}
	return nil
}

func (t *fakeTx) AvailableBalance(_ context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	return t.f.available(userID, now), nil
}

func (t *fakeTx) InsertTransaction(_ context.Context, tr *Transaction) error {
	if tr.RefundedTransactionID != nil {
		for _, existing := range t.f.txs {
			if existing.RefundedTransactionID != nil && *existing.RefundedTransactionID == *tr.RefundedTransactionID {
				return ErrAlreadyRefunded
			}
		}
	}
	cp := *tr
	t.f.txs = append(t.f.txs, &cp)
	return nil
}

func (t *fakeTx) GetTransactionForUpdate(_ context.Context, id uuid.UUID) (*Transaction, error) {
	for _, tr := range t.f.txs {
		if tr.ID == id {
			cp := *tr
			return &cp, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (t *fakeTx) HasRefund(_ context.Context, transactionID uuid.UUID) (bool, error) {
	for _, tr := range t.f.txs {
		if tr.RefundedTransactionID != nil && *tr.RefundedTransactionID == transactionID {
			return true, nil
		}
	}
	return false, nil
}

func (t *fakeTx) InsertExchangeRequest(_ context.Context, req *ExchangeRequest) error {
	if t.f.failExchangeInsert {
		return errInjected
	}
	cp := *req
	t.f.exchanges[req.ID] = &cp
	return nil
}

func (t *fakeTx) GetExchangeRequestForUpdate(_ context.Context, id uuid.UUID) (*ExchangeRequest, error) {
	req, ok := t.f.exchanges[id]
	if !ok {
		return nil, ErrExchangeNotFound
	}
	cp := *req
	return &cp, nil
}

func (t *fakeTx) UpdateExchangeRequest(_ context.Context, req *ExchangeRequest) error {
	if _, ok := t.f.exchanges[req.ID]; !ok {
		return ErrExchangeNotFound
	}
	cp := *req
	t.f.exchanges[req.ID] = &cp
	return nil
}
