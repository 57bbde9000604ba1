// internal/service/coupon/domain/policy.go
package domain

import "time"

// DiscountType 定义折扣的计算方式。
type DiscountType string

const (
	DiscountFixedAmount DiscountType = "FIXED_AMOUNT" // 固定减免金额
	DiscountPercentage  DiscountType = "PERCENTAGE"   // 按比例折扣，带封顶
)

// DistributionMode 定义优惠券的发放方式。
type DistributionMode string

const (
	ModeCodeDownload DistributionMode = "CODE_DOWNLOAD" // 用户凭兑换码领取
	ModeDirectIssue  DistributionMode = "DIRECT_ISSUE"  // 直接发放到账户
	ModeEventIssue   DistributionMode = "EVENT_ISSUE"   // 活动抢券，走 Redis 快路径
)

// CouponPolicy 是一批优惠券的规则聚合：折扣、适用范围、有效期和库存上限。
// CurrentIssueCount 只允许通过存储层的原子条件更新递增，
// 任何进程内的计数器都只是展示用缓存，不具备权威性。
type CouponPolicy struct {
	ID   int64
	Name string
	// CODE_DOWNLOAD 模式下的唯一兑换码
	Code string

	DiscountType DiscountType
	// FIXED_AMOUNT 时为减免金额（分），PERCENTAGE 时为折扣百分比
	DiscountValue int64
	// 使用门槛：订单金额（分）低于该值时不可用，0 表示无门槛
	MinOrderAmount int64
	// PERCENTAGE 时的最大减免金额（分），0 表示不封顶
	MaxDiscountAmount int64

	// 适用范围规则，CEL 表达式；空串表示全场通用
	Applicability string

	DistributionMode DistributionMode

	ValidFrom  time.Time
	ValidUntil time.Time

	// nil 表示不限量
	MaxIssueCount     *int
	CurrentIssueCount int
	// 单个用户最多可领取的张数，0 表示不限
	PerUserLimit int

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsIssuable 校验策略当前是否可以发券。
// 返回 nil 表示可发；否则返回带类别的业务错误，调用方按 kind 分流。
// 库存判断只是快速失败的预检，权威扣减仍由存储层的条件更新保证。
func (p *CouponPolicy) IsIssuable(now time.Time) error {
	if !p.Active {
		return NewError(KindPolicyNotActive, "policy %d is not active", p.ID)
	}
	if now.Before(p.ValidFrom) {
		return NewError(KindPolicyNotYetActive, "policy %d is not active until %s", p.ID, p.ValidFrom.Format(time.RFC3339))
	}
	if now.After(p.ValidUntil) {
		return NewError(KindPolicyExpired, "policy %d expired at %s", p.ID, p.ValidUntil.Format(time.RFC3339))
	}
	if !p.HasStock() {
		return NewError(KindStockExhausted, "policy %d has no remaining stock", p.ID)
	}
	return nil
}

// HasStock 判断是否还有剩余库存。不限量时恒为 true。
func (p *CouponPolicy) HasStock() bool {
	if p.MaxIssueCount == nil {
		return true
	}
	return p.CurrentIssueCount < *p.MaxIssueCount
}

// CalculateDiscount 按策略计算订单可减免的金额（分）。
// 百分比折扣采用向下取整，与历史账务口径保持一致。
func (p *CouponPolicy) CalculateDiscount(orderAmount int64) (int64, error) {
	if orderAmount < p.MinOrderAmount {
		return 0, NewError(KindNotReservable, "order amount %d below minimum %d for policy %d", orderAmount, p.MinOrderAmount, p.ID)
	}

	var discount int64
	switch p.DiscountType {
	case DiscountFixedAmount:
		discount = p.DiscountValue
	case DiscountPercentage:
		discount = orderAmount * p.DiscountValue / 100 // 整数除法，向下取整
		if p.MaxDiscountAmount > 0 && discount > p.MaxDiscountAmount {
			discount = p.MaxDiscountAmount
		}
	default:
		return 0, NewError(KindUnknown, "policy %d has unknown discount type %q", p.ID, p.DiscountType)
	}

	// 减免不超过订单金额本身
	if discount > orderAmount {
		discount = orderAmount
	}
	return discount, nil
}

// BoundedMaxIssueCount 校验管理端调整库存上限是否合法：
// 新上限不能低于已发放数量。返回 nil 表示可以调整。
func (p *CouponPolicy) BoundedMaxIssueCount(newMax *int) error {
	if newMax == nil {
		return nil // 调整为不限量总是合法的
	}
	if *newMax < p.CurrentIssueCount {
		return NewError(KindStockExhausted,
			"cannot set max issue count to %d, %d coupons already issued for policy %d",
			*newMax, p.CurrentIssueCount, p.ID)
	}
	return nil
}
