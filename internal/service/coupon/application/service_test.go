// internal/service/coupon/application/service_test.go
package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"promo/internal/service/coupon/domain"
	"promo/internal/service/coupon/port"
)

type serviceFixture struct {
	svc        *CouponApplicationService
	couponRepo *memCouponRepo
	policyRepo *memPolicyRepo
	lock       *fakeLock
	fastStock  *fakeFastStock
	rules      *fakeRules
	publisher  *capturingPublisher
	clock      time.Time
}

func newServiceFixture(t *testing.T, policies ...*domain.CouponPolicy) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		couponRepo: newMemCouponRepo(),
		policyRepo: newMemPolicyRepo(policies...),
		lock:       &fakeLock{},
		fastStock:  &fakeFastStock{result: port.FastStockGranted},
		rules:      &fakeRules{allow: true},
		publisher:  &capturingPublisher{},
		clock:      time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewCouponApplicationService(
		f.couponRepo, f.policyRepo, f.lock, f.fastStock, f.rules, f.publisher,
		noop.NewTracerProvider().Tracer("test"),
		time.Second, 10*time.Second,
	)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func directIssuePolicy(max int) *domain.CouponPolicy {
	return &domain.CouponPolicy{
		ID:               1,
		Name:             "满100减20",
		DiscountType:     domain.DiscountFixedAmount,
		DiscountValue:    2000,
		DistributionMode: domain.ModeDirectIssue,
		ValidFrom:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil:       time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC),
		MaxIssueCount:    &max,
		Active:           true,
	}
}

func TestIssueByPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("issues a coupon and publishes an event", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(10))

		coupon, err := f.svc.IssueByPolicy(ctx, 1, "user-1")

		require.NoError(t, err)
		assert.Equal(t, domain.StatusIssued, coupon.Status)
		assert.NotZero(t, coupon.ID)
		assert.Contains(t, f.publisher.typesSeen(), domain.EventCouponIssued)
	})

	t.Run("denies when stock is exhausted", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(1))
		_, err := f.svc.IssueByPolicy(ctx, 1, "user-1")
		require.NoError(t, err)

		_, err = f.svc.IssueByPolicy(ctx, 1, "user-2")
		assert.True(t, domain.IsKind(err, domain.KindStockExhausted))
	})

	t.Run("enforces per-user limit", func(t *testing.T) {
		policy := directIssuePolicy(10)
		policy.PerUserLimit = 1
		f := newServiceFixture(t, policy)

		_, err := f.svc.IssueByPolicy(ctx, 1, "user-1")
		require.NoError(t, err)

		_, err = f.svc.IssueByPolicy(ctx, 1, "user-1")
		assert.True(t, domain.IsKind(err, domain.KindUserLimitExceeded))

		// 其他用户不受影响
		_, err = f.svc.IssueByPolicy(ctx, 1, "user-2")
		assert.NoError(t, err)
	})

	t.Run("denies outside the validity window", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(10))
		f.clock = time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

		_, err := f.svc.IssueByPolicy(ctx, 1, "user-1")
		assert.True(t, domain.IsKind(err, domain.KindPolicyExpired))
	})

	t.Run("concurrent issuance never exceeds the cap", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(1))

		const workers = 16
		var wg sync.WaitGroup
		successes := make(chan int64, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if coupon, err := f.svc.IssueByPolicy(ctx, 1, "user-1"); err == nil {
					successes <- coupon.ID
				}
			}()
		}
		wg.Wait()
		close(successes)

		var issued []int64
		for id := range successes {
			issued = append(issued, id)
		}
		assert.Len(t, issued, 1, "exactly one issuance may win")
	})

	t.Run("direct issue runs under a per-policy-user lock", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(10))

		_, err := f.svc.IssueByPolicy(ctx, 1, "user-1")

		require.NoError(t, err)
		assert.Equal(t, 1, f.lock.acquired)
	})

	t.Run("concurrent direct issues by one user respect the per-user limit", func(t *testing.T) {
		policy := directIssuePolicy(10)
		policy.PerUserLimit = 1
		f := newServiceFixture(t, policy)
		f.lock.strict = true

		const workers = 8
		var wg sync.WaitGroup
		successes := make(chan int64, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if coupon, err := f.svc.IssueByPolicy(ctx, 1, "user-1"); err == nil {
					successes <- coupon.ID
				}
			}()
		}
		wg.Wait()
		close(successes)

		var issued []int64
		for id := range successes {
			issued = append(issued, id)
		}
		assert.Len(t, issued, 1, "the limit check is serialized by the lock")

		count, err := f.couponRepo.CountByPolicyAndUser(ctx, 1, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("event issue consults the fast path first", func(t *testing.T) {
		policy := directIssuePolicy(10)
		policy.DistributionMode = domain.ModeEventIssue
		f := newServiceFixture(t, policy)

		coupon, err := f.svc.IssueByPolicy(ctx, 1, "user-1")
		require.NoError(t, err)
		assert.NotNil(t, coupon)
		assert.Equal(t, 1, f.fastStock.takes)
		assert.Zero(t, f.fastStock.restores)
	})

	t.Run("event issue fast-path sold-out denies before the db", func(t *testing.T) {
		policy := directIssuePolicy(10)
		policy.DistributionMode = domain.ModeEventIssue
		f := newServiceFixture(t, policy)
		f.fastStock.result = port.FastStockSoldOut

		_, err := f.svc.IssueByPolicy(ctx, 1, "user-1")
		assert.True(t, domain.IsKind(err, domain.KindStockExhausted))
		// 没有触达权威扣减，数据库计数不变
		p, _ := f.policyRepo.FindByID(ctx, 1)
		assert.Zero(t, p.CurrentIssueCount)
	})

	t.Run("event issue restores fast stock when the db decrement loses", func(t *testing.T) {
		policy := directIssuePolicy(10)
		policy.DistributionMode = domain.ModeEventIssue
		f := newServiceFixture(t, policy)
		// 模拟扫描预检与权威扣减之间名额被并发抢走
		f.policyRepo.denyDecrement = true

		_, err := f.svc.IssueByPolicy(ctx, 1, "user-1")
		assert.True(t, domain.IsKind(err, domain.KindStockExhausted))
		assert.Equal(t, 1, f.fastStock.takes)
		assert.Equal(t, 1, f.fastStock.restores)
	})
}

func TestIssueByCode(t *testing.T) {
	ctx := context.Background()

	policy := directIssuePolicy(10)
	policy.Code = "SUMMER2026"
	policy.DistributionMode = domain.ModeCodeDownload

	t.Run("issues by redemption code under the code lock", func(t *testing.T) {
		f := newServiceFixture(t, policy)

		coupon, err := f.svc.IssueByCode(ctx, "SUMMER2026", "user-1")

		require.NoError(t, err)
		assert.Equal(t, policy.ID, coupon.PolicyID)
		assert.Equal(t, 1, f.lock.acquired)
	})

	t.Run("unknown code", func(t *testing.T) {
		f := newServiceFixture(t, policy)
		_, err := f.svc.IssueByCode(ctx, "NOPE", "user-1")
		assert.True(t, domain.IsKind(err, domain.KindPolicyNotFound))
	})

	t.Run("lock contention surfaces as retryable", func(t *testing.T) {
		f := newServiceFixture(t, policy)
		f.lock.deny = true

		_, err := f.svc.IssueByCode(ctx, "SUMMER2026", "user-1")
		assert.True(t, domain.IsRetryable(err))
	})
}

func TestReserveFlow(t *testing.T) {
	ctx := context.Background()

	issue := func(t *testing.T, f *serviceFixture) *domain.CouponIssue {
		t.Helper()
		coupon, err := f.svc.IssueByPolicy(ctx, 1, "user-1")
		require.NoError(t, err)
		return coupon
	}

	t.Run("reserves an issued coupon", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(10))
		coupon := issue(t, f)

		resp, err := f.svc.Reserve(ctx, &ReserveCouponRequest{
			IssueID: coupon.ID, UserID: "user-1", OrderAmount: 10000,
		})

		require.NoError(t, err)
		assert.True(t, resp.Reserved)
		assert.NotEmpty(t, resp.ReservationID)
		assert.Equal(t, int64(2000), resp.DiscountAmount)

		stored, err := f.couponRepo.FindByID(ctx, coupon.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusReserved, stored.Status)
		assert.Equal(t, resp.ReservationID, stored.ReservationID)
	})

	t.Run("double reserve returns false, first reservation intact", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(10))
		coupon := issue(t, f)

		first, err := f.svc.Reserve(ctx, &ReserveCouponRequest{IssueID: coupon.ID, UserID: "user-1", OrderAmount: 10000})
		require.NoError(t, err)
		require.True(t, first.Reserved)

		second, err := f.svc.Reserve(ctx, &ReserveCouponRequest{IssueID: coupon.ID, UserID: "user-1", OrderAmount: 10000})
		require.NoError(t, err)
		assert.False(t, second.Reserved)

		stored, _ := f.couponRepo.FindByID(ctx, coupon.ID)
		assert.Equal(t, first.ReservationID, stored.ReservationID)
	})

	t.Run("reserve-release-reserve yields a fresh reservation id", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(10))
		coupon := issue(t, f)

		first, err := f.svc.Reserve(ctx, &ReserveCouponRequest{IssueID: coupon.ID, UserID: "user-1", OrderAmount: 10000})
		require.NoError(t, err)
		require.True(t, first.Reserved)

		require.NoError(t, f.svc.Release(ctx, first.ReservationID))

		second, err := f.svc.Reserve(ctx, &ReserveCouponRequest{IssueID: coupon.ID, UserID: "user-1", OrderAmount: 10000})
		require.NoError(t, err)
		require.True(t, second.Reserved)
		assert.NotEqual(t, first.ReservationID, second.ReservationID)
	})

	t.Run("rejects another user's coupon", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(10))
		coupon := issue(t, f)

		_, err := f.svc.Reserve(ctx, &ReserveCouponRequest{IssueID: coupon.ID, UserID: "user-2", OrderAmount: 10000})
		assert.True(t, domain.IsKind(err, domain.KindCouponNotFound))
	})

	t.Run("inapplicable rule is a business result, not an error", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(10))
		coupon := issue(t, f)
		f.rules.allow = false

		resp, err := f.svc.Reserve(ctx, &ReserveCouponRequest{IssueID: coupon.ID, UserID: "user-1", OrderAmount: 10000})
		require.NoError(t, err)
		assert.False(t, resp.Reserved)

		stored, _ := f.couponRepo.FindByID(ctx, coupon.ID)
		assert.Equal(t, domain.StatusIssued, stored.Status)
	})

	t.Run("order below minimum returns false", func(t *testing.T) {
		policy := directIssuePolicy(10)
		policy.MinOrderAmount = 10000
		f := newServiceFixture(t, policy)
		coupon := issue(t, f)

		resp, err := f.svc.Reserve(ctx, &ReserveCouponRequest{IssueID: coupon.ID, UserID: "user-1", OrderAmount: 9999})
		require.NoError(t, err)
		assert.False(t, resp.Reserved)
	})
}

func TestRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown reservation id is an idempotent success", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(10))
		assert.NoError(t, f.svc.Release(ctx, "no-such-reservation"))
	})

	t.Run("double release succeeds", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(10))
		coupon, err := f.svc.IssueByPolicy(ctx, 1, "user-1")
		require.NoError(t, err)
		resp, err := f.svc.Reserve(ctx, &ReserveCouponRequest{IssueID: coupon.ID, UserID: "user-1", OrderAmount: 10000})
		require.NoError(t, err)

		require.NoError(t, f.svc.Release(ctx, resp.ReservationID))
		require.NoError(t, f.svc.Release(ctx, resp.ReservationID))

		stored, _ := f.couponRepo.FindByID(ctx, coupon.ID)
		assert.Equal(t, domain.StatusIssued, stored.Status)
	})
}

func TestCancelCoupon(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels an issued coupon", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(10))
		coupon, err := f.svc.IssueByPolicy(ctx, 1, "user-1")
		require.NoError(t, err)

		require.NoError(t, f.svc.CancelCoupon(ctx, coupon.ID))

		stored, _ := f.couponRepo.FindByID(ctx, coupon.ID)
		assert.Equal(t, domain.StatusCancelled, stored.Status)
		assert.Contains(t, f.publisher.typesSeen(), domain.EventCouponCancelled)
	})

	t.Run("cancelling a reserved coupon frees the reservation", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(10))
		coupon, err := f.svc.IssueByPolicy(ctx, 1, "user-1")
		require.NoError(t, err)
		resp, err := f.svc.Reserve(ctx, &ReserveCouponRequest{IssueID: coupon.ID, UserID: "user-1", OrderAmount: 10000})
		require.NoError(t, err)
		require.True(t, resp.Reserved)

		require.NoError(t, f.svc.CancelCoupon(ctx, coupon.ID))

		stored, _ := f.couponRepo.FindByID(ctx, coupon.ID)
		assert.Equal(t, domain.StatusCancelled, stored.Status)
		assert.Empty(t, stored.ReservationID)
	})

	t.Run("double cancel succeeds", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(10))
		coupon, err := f.svc.IssueByPolicy(ctx, 1, "user-1")
		require.NoError(t, err)

		require.NoError(t, f.svc.CancelCoupon(ctx, coupon.ID))
		require.NoError(t, f.svc.CancelCoupon(ctx, coupon.ID))
	})

	t.Run("used coupon cannot be cancelled", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(10))
		coupon, err := f.svc.IssueByPolicy(ctx, 1, "user-1")
		require.NoError(t, err)
		resp, err := f.svc.Reserve(ctx, &ReserveCouponRequest{IssueID: coupon.ID, UserID: "user-1", OrderAmount: 10000})
		require.NoError(t, err)
		require.NoError(t, f.svc.ConfirmUsage(ctx, resp.ReservationID, "order-1", resp.DiscountAmount))

		err = f.svc.CancelCoupon(ctx, coupon.ID)
		assert.True(t, domain.IsKind(err, domain.KindNotReservable))

		stored, _ := f.couponRepo.FindByID(ctx, coupon.ID)
		assert.Equal(t, domain.StatusUsed, stored.Status)
	})

	t.Run("unknown coupon id errors", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(10))
		err := f.svc.CancelCoupon(ctx, 999)
		assert.True(t, domain.IsKind(err, domain.KindCouponNotFound))
	})
}

func TestHandlePaymentOutcome(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*serviceFixture, *domain.CouponIssue, string) {
		t.Helper()
		f := newServiceFixture(t, directIssuePolicy(10))
		coupon, err := f.svc.IssueByPolicy(ctx, 1, "user-1")
		require.NoError(t, err)
		resp, err := f.svc.Reserve(ctx, &ReserveCouponRequest{IssueID: coupon.ID, UserID: "user-1", OrderAmount: 10000})
		require.NoError(t, err)
		require.True(t, resp.Reserved)
		return f, coupon, resp.ReservationID
	}

	t.Run("payment success confirms usage", func(t *testing.T) {
		f, coupon, reservationID := setup(t)

		err := f.svc.HandlePaymentOutcome(ctx, &domain.PaymentOutcomeEvent{
			EventID:        "evt-1",
			ReservationID:  reservationID,
			OrderID:        "order-9",
			DiscountAmount: 2000,
			Status:         domain.PaymentSucceeded,
		})

		require.NoError(t, err)
		stored, _ := f.couponRepo.FindByID(ctx, coupon.ID)
		assert.Equal(t, domain.StatusUsed, stored.Status)
		assert.Equal(t, "order-9", stored.OrderID)
		assert.Equal(t, int64(2000), stored.ActualDiscountAmount)
		assert.Empty(t, stored.ReservationID)
	})

	t.Run("duplicate payment success is a no-op", func(t *testing.T) {
		f, coupon, reservationID := setup(t)
		event := &domain.PaymentOutcomeEvent{
			EventID: "evt-1", ReservationID: reservationID,
			OrderID: "order-9", DiscountAmount: 2000, Status: domain.PaymentSucceeded,
		}
		require.NoError(t, f.svc.HandlePaymentOutcome(ctx, event))

		// at-least-once 重复投递
		require.NoError(t, f.svc.HandlePaymentOutcome(ctx, event))

		stored, _ := f.couponRepo.FindByID(ctx, coupon.ID)
		assert.Equal(t, domain.StatusUsed, stored.Status)
	})

	t.Run("payment failure releases the reservation", func(t *testing.T) {
		f, coupon, reservationID := setup(t)

		err := f.svc.HandlePaymentOutcome(ctx, &domain.PaymentOutcomeEvent{
			EventID: "evt-2", ReservationID: reservationID,
			OrderID: "order-9", Status: domain.PaymentFailed,
		})

		require.NoError(t, err)
		stored, _ := f.couponRepo.FindByID(ctx, coupon.ID)
		assert.Equal(t, domain.StatusIssued, stored.Status)
		assert.Empty(t, stored.ReservationID)
	})

	t.Run("event without reservation id is acknowledged", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(10))
		err := f.svc.HandlePaymentOutcome(ctx, &domain.PaymentOutcomeEvent{
			EventID: "evt-3", OrderID: "order-no-coupon", Status: domain.PaymentSucceeded,
		})
		assert.NoError(t, err)
	})

	t.Run("success for unknown reservation and order is an error", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(10))
		err := f.svc.HandlePaymentOutcome(ctx, &domain.PaymentOutcomeEvent{
			EventID: "evt-4", ReservationID: "ghost", OrderID: "order-ghost",
			Status: domain.PaymentSucceeded,
		})
		assert.True(t, domain.IsKind(err, domain.KindReservationNotFound))
	})
}

func TestUpdatePolicyQuantity(t *testing.T) {
	ctx := context.Background()

	t.Run("shrinking below issued count is rejected", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(10))
		for i := 0; i < 3; i++ {
			_, err := f.svc.IssueByPolicy(ctx, 1, "user-1")
			require.NoError(t, err)
		}

		two := 2
		err := f.svc.UpdatePolicyQuantity(ctx, &UpdatePolicyQuantityRequest{PolicyID: 1, MaxIssueCount: &two})
		assert.True(t, domain.IsKind(err, domain.KindStockExhausted))
	})

	t.Run("raising the cap re-opens issuance", func(t *testing.T) {
		f := newServiceFixture(t, directIssuePolicy(1))
		_, err := f.svc.IssueByPolicy(ctx, 1, "user-1")
		require.NoError(t, err)
		_, err = f.svc.IssueByPolicy(ctx, 1, "user-2")
		require.True(t, domain.IsKind(err, domain.KindStockExhausted))

		two := 2
		require.NoError(t, f.svc.UpdatePolicyQuantity(ctx, &UpdatePolicyQuantityRequest{PolicyID: 1, MaxIssueCount: &two}))

		_, err = f.svc.IssueByPolicy(ctx, 1, "user-2")
		assert.NoError(t, err)
	})
}
