package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pandarank/pandarank-api/internal/domain/campaign"
	"github.com/pandarank/pandarank-api/internal/pkg/iamport"
)

var errGatewayDown = fmt.Errorf("%w: connection refused", iamport.ErrTransient)

// fakeRepository stores payments by value. WithinTx serializes callers and
// restores the previous state when the callback fails.
type fakeRepository struct {
	mu       sync.Mutex
	payments map[uuid.UUID]Payment
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{payments: make(map[uuid.UUID]Payment)}
}

func (f *fakeRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot := make(map[uuid.UUID]Payment, len(f.payments))
	for k, v := range f.payments {
		snapshot[k] = v
	}
	if err := fn(ctx, &fakeTx{f: f}); err != nil {
		f.payments = snapshot
		return err
	}
	return nil
}

func (f *fakeRepository) Create(_ context.Context, p *Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.payments {
		if existing.CampaignApplicationID == p.CampaignApplicationID {
			return ErrPaymentExists
		}
	}
	f.payments[p.ID] = *p
	return nil
}

func (f *fakeRepository) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &p, nil
}

func (f *fakeRepository) ExistsForApplication(_ context.Context, applicationID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.CampaignApplicationID == applicationID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepository) matching(filter Filter) []Payment {
	var out []Payment
	for _, p := range f.payments {
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.BrandID != nil && p.BrandID != *filter.BrandID {
			continue
		}
		if filter.InfluencerID != nil && p.InfluencerID != *filter.InfluencerID {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (f *fakeRepository) List(_ context.Context, filter Filter, limit, offset int) ([]*Payment, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.matching(filter)
	out := make([]*Payment, 0, len(all))
	for i := range all {
		out = append(out, &all[i])
	}
	total := len(out)
	if offset >= len(out) {
		return []*Payment{}, total, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (f *fakeRepository) TotalsByStatus(_ context.Context, filter Filter) (map[Status]StatusTotal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	totals := make(map[Status]StatusTotal)
	for _, p := range f.matching(filter) {
		t := totals[p.Status]
		t.Count++
		t.Amount = t.Amount.Add(p.Amount)
		totals[p.Status] = t
	}
	return totals, nil
}

func (f *fakeRepository) UpdateRefundAccount(_ context.Context, id uuid.UUID, bank, account, holder string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	p.RefundBank = &bank
	p.RefundAccount = &account
	if holder != "" {
		p.RefundHolder = &holder
	}
	p.UpdatedAt = now
	f.payments[id] = p
	return nil
}

func (f *fakeRepository) put(p Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[p.ID] = p
}

func (f *fakeRepository) get(id uuid.UUID) Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payments[id]
}

// fakeTx runs with fakeRepository.mu held by WithinTx.
type fakeTx struct {
	f *fakeRepository
}

func (t *fakeTx) GetForUpdate(_ context.Context, id uuid.UUID) (*Payment, error) {
	p, ok := t.f.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &p, nil
}

func (t *fakeTx) Transition(_ context.Context, p *Payment, from Status) error {
	current, ok := t.f.payments[p.ID]
	if !ok || current.Status != from {
		return ErrInvalidTransition
	}
	t.f.payments[p.ID] = *p
	return nil
}

type fakeApplications struct {
	apps map[uuid.UUID]*campaign.Application
}

func (f *fakeApplications) GetApplication(_ context.Context, id uuid.UUID) (*campaign.Application, error) {
	app, ok := f.apps[id]
	if !ok {
		return nil, campaign.ErrApplicationNotFound
	}
	return app, nil
}

// fakeGateway answers from programmable hooks and counts calls.
type fakeGateway struct {
	mu sync.Mutex

	prepareCalls, processCalls, verifyCalls, cancelCalls int
	lastExpectation                                      iamport.Expectation
	lastCancel                                           iamport.CancelRequest

	process func(call int) (*iamport.ProcessResult, error)
	verify  func(call int) (bool, error)
	cancel  func(call int) (*iamport.CancelResult, error)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		process: func(int) (*iamport.ProcessResult, error) {
			return &iamport.ProcessResult{ImpUID: "imp_123", Status: iamport.StatusPaid}, nil
		},
		verify: func(int) (bool, error) { return true, nil },
		cancel: func(int) (*iamport.CancelResult, error) { return &iamport.CancelResult{Success: true}, nil },
	}
}

func (g *fakeGateway) Prepare(context.Context, iamport.PrepareRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prepareCalls++
	return nil
}

func (g *fakeGateway) Process(context.Context, iamport.ProcessRequest) (*iamport.ProcessResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.processCalls++
	return g.process(g.processCalls)
}

func (g *fakeGateway) Verify(_ context.Context, _ string, want iamport.Expectation) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	g.lastExpectation = want
	return g.verify(g.verifyCalls)
}

func (g *fakeGateway) Cancel(_ context.Context, req iamport.CancelRequest) (*iamport.CancelResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls++
	g.lastCancel = req
	return g.cancel(g.cancelCalls)
}

type queuedTask struct {
	kind    string
	payload json.RawMessage
}

// recordingQueue keeps enqueued tasks instead of running them.
type recordingQueue struct {
	mu    sync.Mutex
	tasks []queuedTask
	fail  bool
}

func (q *recordingQueue) Enqueue(_ context.Context, kind string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return errors.New("queue unavailable")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q.tasks = append(q.tasks, queuedTask{kind: kind, payload: body})
	return nil
}

func (q *recordingQueue) ofKind(kind string) []queuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queuedTask
	for _, t := range q.tasks {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

type fakeNotifier struct {
	mu        sync.Mutex
	delivered []Notification
	err       error
}

func (n *fakeNotifier) Deliver(_ context.Context, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.delivered = append(n.delivered, payload.(Notification))
	return nil
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func strPtr(s string) *string { return &s }
