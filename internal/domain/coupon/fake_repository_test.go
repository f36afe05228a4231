package coupon

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeRepository stores coupons by value. WithinTx serializes callers and
// restores the previous state when the callback fails.
type fakeRepository struct {
	mu      sync.Mutex
	coupons map[uuid.UUID]Coupon
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{coupons: make(map[uuid.UUID]Coupon)}
}

func (f *fakeRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot := make(map[uuid.UUID]Coupon, len(f.coupons))
	for k, v := range f.coupons {
		snapshot[k] = v
	}
	if err := fn(ctx, &fakeTx{f: f}); err != nil {
		f.coupons = snapshot
		return err
	}
	return nil
}

func (f *fakeRepository) Create(_ context.Context, c *Coupon) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.codeTaken(c.Code) {
		return ErrDuplicateCode
	}
	f.coupons[c.ID] = *c
	return nil
}

func (f *fakeRepository) codeTaken(code string) bool {
	for _, c := range f.coupons {
		if c.Code == code {
			return true
		}
	}
	return false
}

func (f *fakeRepository) GetByID(_ context.Context, id uuid.UUID) (*Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.coupons[id]
	if !ok {
		return nil, ErrCouponNotFound
	}
	return &c, nil
}

func (f *fakeRepository) List(_ context.Context, filter Filter, limit, offset int) ([]*Coupon, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*Coupon, 0)
	for _, c := range f.coupons {
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		if filter.UserID != nil && (c.UserID == nil || *c.UserID != *filter.UserID) {
			continue
		}
		if filter.CampaignID != nil && (c.CampaignID == nil || *c.CampaignID != *filter.CampaignID) {
			continue
		}
		cp := c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	total := len(out)
	if offset >= len(out) {
		return []*Coupon{}, total, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (f *fakeRepository) Assign(_ context.Context, id, userID uuid.UUID, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.coupons[id]
	if !ok {
		return ErrCouponNotFound
	}
	if c.UserID != nil {
		return ErrAlreadyAssigned
	}
	c.UserID = &userID
	c.UpdatedAt = now
	f.coupons[id] = c
	return nil
}

func (f *fakeRepository) CountByStatus(_ context.Context) (map[Status]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[Status]int)
	for _, c := range f.coupons {
		counts[c.Status]++
	}
	return counts, nil
}

func (f *fakeRepository) get(id uuid.UUID) Coupon {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.coupons[id]
}

func (f *fakeRepository) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.coupons)
}

// fakeTx runs with fakeRepository.mu held by WithinTx.
type fakeTx struct {
	f *fakeRepository
}

func (t *fakeTx) GetActiveByCodeForUpdate(_ context.Context, code string) (*Coupon, error) {
	for _, c := range t.f.coupons {
		if c.Code == code && c.Status == StatusActive {
			cp := c
			return &cp, nil
		}
	}
	return nil, ErrCouponNotFound
}

func (t *fakeTx) GetByIDForUpdate(_ context.Context, id uuid.UUID) (*Coupon, error) {
	c, ok := t.f.coupons[id]
	if !ok {
		return nil, ErrCouponNotFound
	}
	return &c, nil
}

func (t *fakeTx) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, usedAt *time.Time, now time.Time) error {
	c, ok := t.f.coupons[id]
	if !ok || c.Status != from {
		return ErrInvalidCouponState
	}
	c.Status = to
	c.UsedAt = usedAt
	c.UpdatedAt = now
	t.f.coupons[id] = c
	return nil
}

func (t *fakeTx) InsertIfAbsent(_ context.Context, c *Coupon) (bool, error) {
	if t.f.codeTaken(c.Code) {
		return false, nil
	}
	t.f.coupons[c.ID] = *c
	return true, nil
}
