// internal/service/coupon/domain/events.go
package domain

import "time"

// 支付结果状态
const (
	PaymentSucceeded = "SUCCEEDED"
	PaymentFailed    = "FAILED"
)

// PaymentOutcomeEvent 是支付系统投递的支付结果通知。
// 投递语义为 at-least-once，处理方必须幂等。
type PaymentOutcomeEvent struct {
	EventID       string    `json:"event_id"`
	ReservationID string    `json:"reservation_id"`
	OrderID       string    `json:"order_id"`
	// 支付侧结算出的优惠金额（分），仅成功事件携带
	DiscountAmount int64     `json:"discount_amount"`
	Status         string    `json:"status"` // SUCCEEDED / FAILED
	OccurredAt     time.Time `json:"occurred_at"`
}

// 优惠券生命周期事件类型
const (
	EventCouponIssued    = "COUPON_ISSUED"
	EventCouponReserved  = "COUPON_RESERVED"
	EventCouponReleased  = "COUPON_RELEASED"
	EventCouponUsed      = "COUPON_USED"
	EventCouponExpired   = "COUPON_EXPIRED"
	EventCouponCancelled = "COUPON_CANCELLED"
)

// CouponEvent 是对外广播的优惠券生命周期事件，
// 由推送网关等下游消费，向用户实时通知。
type CouponEvent struct {
	Type          string    `json:"type"`
	CouponID      int64     `json:"coupon_id"`
	PolicyID      int64     `json:"policy_id"`
	UserID        string    `json:"user_id"`
	ReservationID string    `json:"reservation_id,omitempty"`
	OrderID       string    `json:"order_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}
