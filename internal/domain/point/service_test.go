package point

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pandarank/pandarank-api/internal/domain/user"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, users ...uuid.UUID) (*Service, *fakeRepository) {
	t.Helper()
	repo := newFakeRepository(users...)
	svc := NewService(repo, DefaultConfig())
	svc.now = func() time.Time { return testNow }
	return svc, repo
}

func influencer(id uuid.UUID) user.Actor { return user.Actor{ID: id, Role: user.RoleInfluencer} }

func admin() user.Actor { return user.Actor{ID: uuid.New(), Role: user.RoleAdmin} }

func mustBalance(t *testing.T, svc *Service, userID uuid.UUID, want int64) {
	t.Helper()
	got, err := svc.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got != want {
		t.Fatalf("expected balance %d, got %d", want, got)
	}
}

func TestUseAndRefundRestoreBalance(t *testing.T) {
	ctx := context.Background()
	u := uuid.New()
	svc, _ := newTestService(t, u)

	if _, err := svc.Earn(ctx, u, 1000, "review reward", Provenance{}, nil); err != nil {
		t.Fatalf("earn: %v", err)
	}
	use, err := svc.Use(ctx, u, 300, "boost", Provenance{})
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	if use.Amount != -300 || use.Kind != KindUse {
		t.Fatalf("unexpected use row %+v", use)
	}
	mustBalance(t, svc, u, 700)

	refund, err := svc.Refund(ctx, use.ID, "", influencer(u))
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refund.Amount != 300 || refund.RefundedTransactionID == nil || *refund.RefundedTransactionID != use.ID {
		t.Fatalf("unexpected refund row %+v", refund)
	}
	mustBalance(t, svc, u, 1000)

	if _, err := svc.Refund(ctx, use.ID, "again", influencer(u)); !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("expected ErrAlreadyRefunded, got %v", err)
	}
	mustBalance(t, svc, u, 1000)
}

func TestUseRejectsOverdraft(t *testing.T) {
	ctx := context.Background()
	u := uuid.New()
	svc, repo := newTestService(t, u)

	if _, err := svc.Earn(ctx, u, 100, "seed", Provenance{}, nil); err != nil {
		t.Fatalf("earn: %v", err)
	}
	if _, err := svc.Use(ctx, u, 101, "too much", Provenance{}); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if repo.count(KindUse) != 0 {
		t.Fatal("a rejected debit must not write a ledger row")
	}
	if _, err := svc.Use(ctx, u, 100, "exact", Provenance{}); err != nil {
		t.Fatalf("spending the whole balance should succeed: %v", err)
	}
	mustBalance(t, svc, u, 0)
}

func TestNonPositiveAmountsAreRejected(t *testing.T) {
	ctx := context.Background()
	u := uuid.New()
	svc, _ := newTestService(t, u)

	if _, err := svc.Earn(ctx, u, 0, "", Provenance{}, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("earn 0: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.Use(ctx, u, -5, "", Provenance{}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("use -5: expected ErrInvalidAmount, got %v", err)
	}
}

func TestEarnUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Earn(context.Background(), uuid.New(), 10, "", Provenance{}, nil); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestRefundAuthorization(t *testing.T) {
	ctx := context.Background()
	owner, stranger := uuid.New(), uuid.New()
	svc, _ := newTestService(t, owner, stranger)

	earn, _ := svc.Earn(ctx, owner, 500, "seed", Provenance{}, nil)
	use, err := svc.Use(ctx, owner, 200, "spend", Provenance{})
	if err != nil {
		t.Fatalf("use: %v", err)
	}

	if _, err := svc.Refund(ctx, use.ID, "", influencer(stranger)); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Refund(ctx, earn.ID, "", influencer(owner)); !errors.Is(err, ErrNotRefundable) {
		t.Fatalf("expected ErrNotRefundable for EARN, got %v", err)
	}
	if _, err := svc.Refund(ctx, uuid.New(), "", admin()); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
	if _, err := svc.Refund(ctx, use.ID, "support ticket", admin()); err != nil {
		t.Fatalf("admin refund: %v", err)
	}
	mustBalance(t, svc, owner, 500)
}

func TestExpiredPointsAreNotSpendable(t *testing.T) {
	ctx := context.Background()
	u := uuid.New()
	svc, _ := newTestService(t, u)

	soon := testNow.Add(time.Hour)
	if _, err := svc.Earn(ctx, u, 400, "short lived", Provenance{}, &soon); err != nil {
		t.Fatalf("earn: %v", err)
	}
	if _, err := svc.Earn(ctx, u, 100, "default expiry", Provenance{}, nil); err != nil {
		t.Fatalf("earn: %v", err)
	}

	svc.now = func() time.Time { return testNow.Add(2 * time.Hour) }
	mustBalance(t, svc, u, 100)

	if _, err := svc.Use(ctx, u, 150, "", Provenance{}); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	stats, err := svc.Stats(ctx, u)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Expired != 400 || stats.CurrentBalance != 500 || stats.AvailableBalance != 100 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	u := uuid.New()
	svc, _ := newTestService(t, u)

	inTenDays := testNow.Add(10 * 24 * time.Hour)
	_, _ = svc.Earn(ctx, u, 30000, "campaign", Provenance{}, nil)
	_, _ = svc.Earn(ctx, u, 500, "expiring", Provenance{}, &inTenDays)
	use, _ := svc.Use(ctx, u, 1000, "", Provenance{})
	_, _ = svc.Refund(ctx, use.ID, "", influencer(u))
	_, _ = svc.Use(ctx, u, 2000, "", Provenance{})
	if _, err := svc.Exchange(ctx, u, 10000, BankDetails{BankName: "KB", AccountNumber: "1", AccountHolder: "Kim"}); err != nil {
		t.Fatalf("exchange: %v", err)
	}

	stats, err := svc.Stats(ctx, u)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := Stats{
		TotalEarned:      30500,
		TotalUsed:        -3000,
		TotalRefunded:    1000,
		TotalExchanged:   -10000,
		CurrentBalance:   18500,
		AvailableBalance: 18500,
		ExpiringSoon:     500,
	}
	if *stats != want {
		t.Fatalf("expected %+v, got %+v", want, *stats)
	}
}

func TestExchangeMinimumAndBalance(t *testing.T) {
	ctx := context.Background()
	u := uuid.New()
	svc, _ := newTestService(t, u)
	bank := BankDetails{BankName: "Shinhan", AccountNumber: "110-123", AccountHolder: "Lee"}

	_, _ = svc.Earn(ctx, u, 12000, "seed", Provenance{}, nil)

	if _, err := svc.Exchange(ctx, u, 9999, bank); !errors.Is(err, ErrBelowMinimumExchange) {
		t.Fatalf("expected ErrBelowMinimumExchange, got %v", err)
	}
	if _, err := svc.Exchange(ctx, u, 13000, bank); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	req, err := svc.Exchange(ctx, u, 10000, bank)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if req.Status != ExchangePending || req.Amount != 10000 || req.BankName != "Shinhan" {
		t.Fatalf("unexpected request %+v", req)
	}
	mustBalance(t, svc, u, 2000)
}

func TestExchangeIsAtomic(t *testing.T) {
	ctx := context.Background()
	u := uuid.New()
	svc, repo := newTestService(t, u)
	_, _ = svc.Earn(ctx, u, 50000, "seed", Provenance{}, nil)

	repo.failExchangeInsert = true
	if _, err := svc.Exchange(ctx, u, 20000, BankDetails{BankName: "KB", AccountNumber: "1", AccountHolder: "A"}); !errors.Is(err, errInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if repo.count(KindExchange) != 0 {
		t.Fatal("EXCHANGE row must roll back with the request")
	}
	mustBalance(t, svc, u, 50000)
}

func TestExchangeRejectionReturnsPoints(t *testing.T) {
	ctx := context.Background()
	u := uuid.New()
	svc, _ := newTestService(t, u)
	_, _ = svc.Earn(ctx, u, 20000, "seed", Provenance{}, nil)

	req, err := svc.Exchange(ctx, u, 15000, BankDetails{BankName: "KB", AccountNumber: "1", AccountHolder: "A"})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	mustBalance(t, svc, u, 5000)

	if _, err := svc.ProcessExchange(ctx, req.ID, ActionReject, admin(), " ", ""); !errors.Is(err, ErrRejectionReasonRequired) {
		t.Fatalf("expected ErrRejectionReasonRequired, got %v", err)
	}
	if _, err := svc.ProcessExchange(ctx, req.ID, ActionReject, influencer(u), "no", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-admin, got %v", err)
	}

	rejected, err := svc.ProcessExchange(ctx, req.ID, ActionReject, admin(), "account mismatch", "")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != ExchangeRejected || rejected.RejectionReason == nil || *rejected.RejectionReason != "account mismatch" {
		t.Fatalf("unexpected rejected request %+v", rejected)
	}
	if rejected.ProcessedAt == nil || rejected.ProcessedBy == nil {
		t.Fatal("processed_at and processed_by must be set")
	}
	mustBalance(t, svc, u, 20000)

	if _, err := svc.ProcessExchange(ctx, req.ID, ActionApprove, admin(), "", ""); !errors.Is(err, ErrInvalidExchangeTransition) {
		t.Fatalf("expected ErrInvalidExchangeTransition, got %v", err)
	}
	mustBalance(t, svc, u, 20000)
}

func TestExchangeApproveThenComplete(t *testing.T) {
	ctx := context.Background()
	u := uuid.New()
	svc, _ := newTestService(t, u)
	_, _ = svc.Earn(ctx, u, 10000, "seed", Provenance{}, nil)
	req, _ := svc.Exchange(ctx, u, 10000, BankDetails{BankName: "KB", AccountNumber: "1", AccountHolder: "A"})

	if _, err := svc.ProcessExchange(ctx, req.ID, ActionComplete, admin(), "", "TX-1"); !errors.Is(err, ErrInvalidExchangeTransition) {
		t.Fatalf("PENDING cannot complete directly, got %v", err)
	}
	if _, err := svc.ProcessExchange(ctx, req.ID, ActionApprove, admin(), "", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := svc.CancelExchange(ctx, req.ID, influencer(u)); !errors.Is(err, ErrInvalidExchangeTransition) {
		t.Fatalf("approved requests cannot be cancelled, got %v", err)
	}

	done, err := svc.ProcessExchange(ctx, req.ID, ActionComplete, admin(), "", "TX-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != ExchangeCompleted || done.TransactionID == nil || *done.TransactionID != "TX-1" {
		t.Fatalf("unexpected completed request %+v", done)
	}
	mustBalance(t, svc, u, 0)

	if _, err := svc.ProcessExchange(ctx, req.ID, ExchangeAction("archive"), admin(), "", ""); !errors.Is(err, ErrInvalidExchangeAction) {
		t.Fatalf("expected ErrInvalidExchangeAction, got %v", err)
	}
}

func TestCancelExchange(t *testing.T) {
	ctx := context.Background()
	owner, other := uuid.New(), uuid.New()
	svc, _ := newTestService(t, owner, other)
	_, _ = svc.Earn(ctx, owner, 10000, "seed", Provenance{}, nil)
	req, _ := svc.Exchange(ctx, owner, 10000, BankDetails{BankName: "KB", AccountNumber: "1", AccountHolder: "A"})

	if _, err := svc.CancelExchange(ctx, req.ID, influencer(other)); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.CancelExchange(ctx, uuid.New(), influencer(owner)); !errors.Is(err, ErrExchangeNotFound) {
		t.Fatalf("expected ErrExchangeNotFound, got %v", err)
	}

	cancelled, err := svc.CancelExchange(ctx, req.ID, influencer(owner))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != ExchangeCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}
	mustBalance(t, svc, owner, 10000)
}

func TestListExchangeRequestsScopesToActor(t *testing.T) {
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	svc, _ := newTestService(t, a, b)
	bank := BankDetails{BankName: "KB", AccountNumber: "1", AccountHolder: "A"}
	for _, u := range []uuid.UUID{a, b} {
		_, _ = svc.Earn(ctx, u, 10000, "seed", Provenance{}, nil)
		_, _ = svc.Exchange(ctx, u, 10000, bank)
	}

	own, total, err := svc.ListExchangeRequests(ctx, influencer(a), ExchangeFilter{UserID: &b}, 20, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || own[0].UserID != a {
		t.Fatalf("non-admin must only see own requests, got %d", total)
	}

	_, total, _ = svc.ListExchangeRequests(ctx, admin(), ExchangeFilter{}, 20, 0)
	if total != 2 {
		t.Fatalf("admin should see all requests, got %d", total)
	}
}

// Random operation sequences must keep the balance equal to the ledger sum
// and never let a debit overdraw.
func TestRandomSequencesKeepBalanceConsistent(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		u := uuid.New()
		svc, repo := newTestService(t, u)
		var uses []*Transaction
		var model int64

		for step := 0; step < 60; step++ {
			switch rng.Intn(3) {
			case 0:
				amount := int64(rng.Intn(5000) + 1)
				if _, err := svc.Earn(ctx, u, amount, "", Provenance{}, nil); err != nil {
					t.Fatalf("earn: %v", err)
				}
				model += amount
			case 1:
				amount := int64(rng.Intn(6000) + 1)
				use, err := svc.Use(ctx, u, amount, "", Provenance{})
				switch {
				case err == nil:
					model -= amount
					uses = append(uses, use)
				case errors.Is(err, ErrInsufficientBalance):
					if model >= amount {
						t.Fatalf("use of %d rejected with model balance %d", amount, model)
					}
				default:
					t.Fatalf("use: %v", err)
				}
			case 2:
				if len(uses) == 0 {
					continue
				}
				idx := rng.Intn(len(uses))
				_, err := svc.Refund(ctx, uses[idx].ID, "", influencer(u))
				switch {
				case err == nil:
					model -= uses[idx].Amount
				case errors.Is(err, ErrAlreadyRefunded):
				default:
					t.Fatalf("refund: %v", err)
				}
			}

			if model < 0 {
				t.Fatalf("model balance went negative: %d", model)
			}
		}

		mustBalance(t, svc, u, model)
		stats, _ := repo.Stats(ctx, u, testNow, testNow)
		if stats.CurrentBalance != model {
			t.Fatalf("ledger sum %d != model %d", stats.CurrentBalance, model)
		}
	}
}
