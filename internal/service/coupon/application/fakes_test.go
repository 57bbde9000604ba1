// internal/service/coupon/application/fakes_test.go
package application

import (
	"context"
	"sync"
	"time"

	"promo/internal/service/coupon/domain"
	"promo/internal/service/coupon/port"
)

// memCouponRepo 是 CouponRepository 的内存实现。
// Transact 用一把互斥锁模拟可串行化事务，Find* 返回副本模拟
// "改了不 Save 就不落库" 的持久化语义。
type memCouponRepo struct {
	mu      sync.Mutex
	nextID  int64
	coupons map[int64]*domain.CouponIssue

	saveErr error // 注入 Save 失败
}

func newMemCouponRepo() *memCouponRepo {
	return &memCouponRepo{nextID: 1, coupons: make(map[int64]*domain.CouponIssue)}
}

func copyCoupon(c *domain.CouponIssue) *domain.CouponIssue {
	cp := *c
	if c.ReservedAt != nil {
		t := *c.ReservedAt
		cp.ReservedAt = &t
	}
	if c.UsedAt != nil {
		t := *c.UsedAt
		cp.UsedAt = &t
	}
	if c.ExpiredAt != nil {
		t := *c.ExpiredAt
		cp.ExpiredAt = &t
	}
	return &cp
}

// 无锁内部实现，锁由公开方法或 Transact 持有

func (r *memCouponRepo) createLocked(coupon *domain.CouponIssue) error {
	coupon.ID = r.nextID
	r.nextID++
	r.coupons[coupon.ID] = copyCoupon(coupon)
	return nil
}

func (r *memCouponRepo) saveLocked(coupon *domain.CouponIssue) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.coupons[coupon.ID] = copyCoupon(coupon)
	return nil
}

func (r *memCouponRepo) findByIDLocked(id int64) (*domain.CouponIssue, error) {
	c, ok := r.coupons[id]
	if !ok {
		return nil, domain.NewError(domain.KindCouponNotFound, "coupon %d not found", id)
	}
	return copyCoupon(c), nil
}

func (r *memCouponRepo) findByReservationIDLocked(reservationID string) (*domain.CouponIssue, error) {
	for _, c := range r.coupons {
		if c.ReservationID == reservationID {
			return copyCoupon(c), nil
		}
	}
	return nil, domain.NewError(domain.KindReservationNotFound, "reservation %s not found", reservationID)
}

func (r *memCouponRepo) findByOrderIDLocked(orderID string) (*domain.CouponIssue, error) {
	for _, c := range r.coupons {
		if c.OrderID == orderID {
			return copyCoupon(c), nil
		}
	}
	return nil, domain.NewError(domain.KindCouponNotFound, "no coupon used for order %s", orderID)
}

// 公开方法在自己的锁内执行

func (r *memCouponRepo) Create(ctx context.Context, coupon *domain.CouponIssue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(coupon)
}

func (r *memCouponRepo) Save(ctx context.Context, coupon *domain.CouponIssue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(coupon)
}

func (r *memCouponRepo) FindByID(ctx context.Context, id int64) (*domain.CouponIssue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findByIDLocked(id)
}

func (r *memCouponRepo) FindByIDForUpdate(ctx context.Context, id int64) (*domain.CouponIssue, error) {
	return r.FindByID(ctx, id)
}

func (r *memCouponRepo) FindByReservationIDForUpdate(ctx context.Context, reservationID string) (*domain.CouponIssue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findByReservationIDLocked(reservationID)
}

func (r *memCouponRepo) FindByOrderID(ctx context.Context, orderID string) (*domain.CouponIssue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findByOrderIDLocked(orderID)
}

func (r *memCouponRepo) FindByUserID(ctx context.Context, userID string, page, pageSize int) ([]*domain.CouponIssue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*domain.CouponIssue
	for _, c := range r.coupons {
		if c.UserID == userID {
			result = append(result, copyCoupon(c))
		}
	}
	return result, nil
}

func (r *memCouponRepo) CountByPolicyAndUser(ctx context.Context, policyID int64, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, c := range r.coupons {
		if c.PolicyID == policyID && c.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (r *memCouponRepo) FindReservedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.CouponIssue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*domain.CouponIssue
	for _, c := range r.coupons {
		if c.Status == domain.StatusReserved && c.ReservedAt != nil && c.ReservedAt.Before(cutoff) {
			result = append(result, copyCoupon(c))
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (r *memCouponRepo) FindExpiredPage(ctx context.Context, now time.Time, pageSize int) ([]*domain.CouponIssue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*domain.CouponIssue
	for _, c := range r.coupons {
		if (c.Status == domain.StatusIssued || c.Status == domain.StatusReserved) && c.ExpiresAt.Before(now) {
			result = append(result, copyCoupon(c))
			if len(result) >= pageSize {
				break
			}
		}
	}
	return result, nil
}

func (r *memCouponRepo) BatchUpdateStatus(ctx context.Context, ids []int64, status domain.CouponStatus, ts time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var updated int64
	for _, id := range ids {
		c, ok := r.coupons[id]
		if !ok || (c.Status != domain.StatusIssued && c.Status != domain.StatusReserved) {
			continue
		}
		c.Status = status
		c.ReservationID = ""
		c.ReservedAt = nil
		if status == domain.StatusExpired {
			t := ts
			c.ExpiredAt = &t
		}
		updated++
	}
	return updated, nil
}

func (r *memCouponRepo) Transact(ctx context.Context, fn func(repo domain.CouponRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(txView{r})
}

// txView 把事务内的回调路由到无锁实现，锁已由 Transact 持有。
type txView struct{ r *memCouponRepo }

func (v txView) Create(ctx context.Context, c *domain.CouponIssue) error { return v.r.createLocked(c) }
func (v txView) Save(ctx context.Context, c *domain.CouponIssue) error   { return v.r.saveLocked(c) }
func (v txView) FindByID(ctx context.Context, id int64) (*domain.CouponIssue, error) {
	return v.r.findByIDLocked(id)
}
func (v txView) FindByIDForUpdate(ctx context.Context, id int64) (*domain.CouponIssue, error) {
	return v.r.findByIDLocked(id)
}
func (v txView) FindByReservationIDForUpdate(ctx context.Context, reservationID string) (*domain.CouponIssue, error) {
	return v.r.findByReservationIDLocked(reservationID)
}
func (v txView) FindByOrderID(ctx context.Context, orderID string) (*domain.CouponIssue, error) {
	return v.r.findByOrderIDLocked(orderID)
}
func (v txView) FindByUserID(ctx context.Context, userID string, page, pageSize int) ([]*domain.CouponIssue, error) {
	panic("not used inside transactions")
}
func (v txView) CountByPolicyAndUser(ctx context.Context, policyID int64, userID string) (int64, error) {
	panic("not used inside transactions")
}
func (v txView) FindReservedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.CouponIssue, error) {
	panic("not used inside transactions")
}
func (v txView) FindExpiredPage(ctx context.Context, now time.Time, pageSize int) ([]*domain.CouponIssue, error) {
	panic("not used inside transactions")
}
func (v txView) BatchUpdateStatus(ctx context.Context, ids []int64, status domain.CouponStatus, ts time.Time) (int64, error) {
	panic("not used inside transactions")
}
func (v txView) Transact(ctx context.Context, fn func(repo domain.CouponRepository) error) error {
	return fn(v)
}

// memPolicyRepo 是 PolicyRepository 的内存实现，
// AtomicDecrementStock 在互斥锁内做条件递增，语义与数据库条件更新一致。
type memPolicyRepo struct {
	mu       sync.Mutex
	policies map[int64]*domain.CouponPolicy

	denyDecrement bool // 模拟条件更新抢不到名额
}

func newMemPolicyRepo(policies ...*domain.CouponPolicy) *memPolicyRepo {
	r := &memPolicyRepo{policies: make(map[int64]*domain.CouponPolicy)}
	for _, p := range policies {
		cp := *p
		r.policies[p.ID] = &cp
	}
	return r
}

func (r *memPolicyRepo) Create(ctx context.Context, policy *domain.CouponPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	policy.ID = int64(len(r.policies) + 1)
	cp := *policy
	r.policies[policy.ID] = &cp
	return nil
}

func (r *memPolicyRepo) FindByID(ctx context.Context, id int64) (*domain.CouponPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[id]
	if !ok {
		return nil, domain.NewError(domain.KindPolicyNotFound, "policy %d not found", id)
	}
	cp := *p
	return &cp, nil
}

func (r *memPolicyRepo) FindByCode(ctx context.Context, code string) (*domain.CouponPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.policies {
		if p.Code == code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.NewError(domain.KindPolicyNotFound, "policy with code %s not found", code)
}

func (r *memPolicyRepo) AtomicDecrementStock(ctx context.Context, policyID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[policyID]
	if !ok {
		return false, domain.NewError(domain.KindPolicyNotFound, "policy %d not found", policyID)
	}
	if r.denyDecrement || !p.Active {
		return false, nil
	}
	if p.MaxIssueCount != nil && p.CurrentIssueCount >= *p.MaxIssueCount {
		return false, nil
	}
	p.CurrentIssueCount++
	return true, nil
}

func (r *memPolicyRepo) UpdateMaxIssueCount(ctx context.Context, policyID int64, newMax *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[policyID]
	if !ok {
		return domain.NewError(domain.KindPolicyNotFound, "policy %d not found", policyID)
	}
	if newMax != nil && p.CurrentIssueCount > *newMax {
		return domain.NewError(domain.KindStockExhausted, "cannot shrink below issued count")
	}
	p.MaxIssueCount = newMax
	return nil
}

// fakeLock 记录加锁次数；strict 模式下按 key 真正互斥，用于并发用例。
type fakeLock struct {
	mu       sync.Mutex
	acquired int
	deny     bool
	strict   bool
	held     map[string]*sync.Mutex
}

func (l *fakeLock) TryAcquire(ctx context.Context, key string, wait, lease time.Duration) (string, error) {
	l.mu.Lock()
	if l.deny {
		l.mu.Unlock()
		return "", domain.NewError(domain.KindLockAcquisitionFailed, "lock %s is held", key)
	}
	l.acquired++
	if !l.strict {
		l.mu.Unlock()
		return "token", nil
	}
	if l.held == nil {
		l.held = make(map[string]*sync.Mutex)
	}
	keyMu, ok := l.held[key]
	if !ok {
		keyMu = &sync.Mutex{}
		l.held[key] = keyMu
	}
	l.mu.Unlock()
	keyMu.Lock()
	return key, nil
}

func (l *fakeLock) Release(ctx context.Context, key, token string) bool {
	l.mu.Lock()
	keyMu := l.held[key]
	l.mu.Unlock()
	if keyMu != nil {
		keyMu.Unlock()
	}
	return true
}

// fakeFastStock 记录 TryTake/Restore 调用，结果可编程。
type fakeFastStock struct {
	mu       sync.Mutex
	result   port.FastStockResult
	takes    int
	restores int
}

func (s *fakeFastStock) TryTake(ctx context.Context, policyID int64, userID string) (port.FastStockResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.takes++
	return s.result, nil
}

func (s *fakeFastStock) Restore(ctx context.Context, policyID int64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restores++
	return nil
}

func (s *fakeFastStock) Prepare(ctx context.Context, policyID int64, stock int) error { return nil }

// fakeRules 放行所有表达式，可切换为拒绝。
type fakeRules struct {
	allow   bool
	lastExp string
}

func (r *fakeRules) Evaluate(expression string, fact domain.Fact) (bool, error) {
	r.lastExp = expression
	return r.allow, nil
}

// capturingPublisher 记录发布的事件。
type capturingPublisher struct {
	mu     sync.Mutex
	events []*domain.CouponEvent
}

func (p *capturingPublisher) Publish(ctx context.Context, event *domain.CouponEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) typesSeen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}
