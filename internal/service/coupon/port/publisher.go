// internal/service/coupon/port/publisher.go
package port

import (
	"context"

	"promo/internal/service/coupon/domain"
)

// EventPublisher 对外广播优惠券生命周期事件。
// 发布失败只记录日志，不影响主流程——事件是通知性质的，不承载一致性。
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.CouponEvent) error
}
