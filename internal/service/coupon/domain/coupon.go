// internal/service/coupon/domain/coupon.go
package domain

import "time"

// CouponStatus 定义了一张已发放优惠券的生命周期状态。
type CouponStatus string

const (
	StatusIssued    CouponStatus = "ISSUED"    // 已发放，可以使用
	StatusReserved  CouponStatus = "RESERVED"  // 下单占用中，等待支付结果
	StatusUsed      CouponStatus = "USED"      // 已核销，终态
	StatusExpired   CouponStatus = "EXPIRED"   // 已过期，终态
	StatusCancelled CouponStatus = "CANCELLED" // 管理端作废，终态
)

// IsTerminal 判断状态是否为终态。终态之后不允许任何流转。
func (s CouponStatus) IsTerminal() bool {
	return s == StatusUsed || s == StatusExpired || s == StatusCancelled
}

// CouponIssue 是发到某个用户手里的一张具体优惠券。
// 状态只允许向前流转，唯一的回退路径是 RESERVED -> ISSUED（占用释放）。
// 终态的券永不删除，保留作审计。
type CouponIssue struct {
	ID       int64
	PolicyID int64
	UserID   string

	Status CouponStatus
	// 占用期间的预订单凭据；仅在 RESERVED 状态下非空，全局唯一
	ReservationID string
	// 核销后关联的订单号；仅在 USED 状态下非空
	OrderID string

	IssuedAt   time.Time
	ReservedAt *time.Time
	UsedAt     *time.Time
	ExpiredAt  *time.Time
	// 券级别的失效时间，发放时从策略的 ValidUntil 固化而来，
	// 之后策略被修改也不影响已发出的券
	ExpiresAt time.Time

	// 核销时实际减免的金额（分）；仅在 USED 状态下有值
	ActualDiscountAmount int64

	// 冗余的展示字段，避免列表页反查策略表
	DiscountType  DiscountType
	DiscountValue int64
}

// NewCouponIssue 按策略为用户创建一张新券，初始状态为 ISSUED。
func NewCouponIssue(policy *CouponPolicy, userID string, now time.Time) *CouponIssue {
	return &CouponIssue{
		PolicyID:      policy.ID,
		UserID:        userID,
		Status:        StatusIssued,
		IssuedAt:      now,
		ExpiresAt:     policy.ValidUntil,
		DiscountType:  policy.DiscountType,
		DiscountValue: policy.DiscountValue,
	}
}

// IsReservable 判断这张券当前能否被占用。
func (c *CouponIssue) IsReservable(now time.Time) bool {
	return c.Status == StatusIssued && !now.After(c.ExpiresAt)
}

// Reserve 将券置为占用状态。
// 返回 false 表示当前不可占用（不是错误）——调用方应当换一张券，而不是报错。
func (c *CouponIssue) Reserve(reservationID string, now time.Time) bool {
	if !c.IsReservable(now) {
		return false
	}
	c.Status = StatusReserved
	c.ReservationID = reservationID
	t := now
	c.ReservedAt = &t
	return true
}

// Release 释放占用，回到 ISSUED。
// 非 RESERVED 状态下是幂等的空操作，返回 false。
func (c *CouponIssue) Release() bool {
	if c.Status != StatusReserved {
		return false
	}
	c.Status = StatusIssued
	c.ReservationID = ""
	c.ReservedAt = nil
	return true
}

// ConfirmUsage 在支付成功后将券核销为 USED。
// 与 Reserve/Release 不同，非 RESERVED 状态下这是一个必须暴露的错误：
// 支付驱动的路径上出现状态不匹配，意味着事件丢失或重复，不能静默吞掉。
func (c *CouponIssue) ConfirmUsage(orderID string, discountAmount int64, now time.Time) error {
	if c.Status != StatusReserved {
		return NewError(KindNotInReservedState,
			"coupon %d is %s, cannot confirm usage for order %s", c.ID, c.Status, orderID)
	}
	c.Status = StatusUsed
	c.OrderID = orderID
	c.ActualDiscountAmount = discountAmount
	t := now
	c.UsedAt = &t
	c.ReservationID = ""
	return nil
}

// Expire 将券置为过期。
// 只有 ISSUED/RESERVED 的券会被置为 EXPIRED；其他状态下是幂等的空操作。
func (c *CouponIssue) Expire(now time.Time) bool {
	if c.Status != StatusIssued && c.Status != StatusReserved {
		return false
	}
	c.Status = StatusExpired
	c.ReservationID = ""
	c.ReservedAt = nil
	t := now
	c.ExpiredAt = &t
	return true
}

// Cancel 管理端作废一张券。终态的券不可作废。
func (c *CouponIssue) Cancel() bool {
	if c.Status.IsTerminal() {
		return false
	}
	c.Status = StatusCancelled
	c.ReservationID = ""
	c.ReservedAt = nil
	return true
}

// IsReservationTimedOut 判断占用是否超时。
// 恰好在超时边界上（reservedAt + timeout == now）不算超时，必须严格超过。
func (c *CouponIssue) IsReservationTimedOut(timeout time.Duration, now time.Time) bool {
	if c.Status != StatusReserved || c.ReservedAt == nil {
		return false
	}
	return now.After(c.ReservedAt.Add(timeout))
}
