// internal/service/coupon/domain/repository.go
package domain

import (
	"context"
	"time"
)

// CouponRepository 是优惠券实例的持久化契约。
// 所有 "ForUpdate" 方法必须以写意向读（SELECT ... FOR UPDATE 或等价机制）
// 返回行，保证同一张券上的并发 confirm/release 串行化。
type CouponRepository interface {
	Create(ctx context.Context, coupon *CouponIssue) error
	Save(ctx context.Context, coupon *CouponIssue) error

	FindByID(ctx context.Context, id int64) (*CouponIssue, error)
	FindByIDForUpdate(ctx context.Context, id int64) (*CouponIssue, error)
	FindByReservationIDForUpdate(ctx context.Context, reservationID string) (*CouponIssue, error)

	// FindByOrderID 按核销订单号查找。用于支付成功事件的重复投递判定：
	// 券核销后 reservationId 已按不变量清空，只能凭订单号识别重复。
	FindByOrderID(ctx context.Context, orderID string) (*CouponIssue, error)

	FindByUserID(ctx context.Context, userID string, page, pageSize int) ([]*CouponIssue, error)
	CountByPolicyAndUser(ctx context.Context, policyID int64, userID string) (int64, error)

	// FindReservedBefore 查询在 cutoff 之前进入 RESERVED 状态的券（超时对账用）
	FindReservedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*CouponIssue, error)

	// FindExpiredPage 查询一页已过有效期但仍处于 ISSUED/RESERVED 的券。
	// 调用方反复取第一页即可：被批量置为 EXPIRED 的行不会再出现在结果里。
	FindExpiredPage(ctx context.Context, now time.Time, pageSize int) ([]*CouponIssue, error)

	// BatchUpdateStatus 对一批券执行条件化的批量状态更新：
	// 只有仍处于 ISSUED/RESERVED 的行会被更新，返回实际更新的行数。
	// 在扫描和更新之间被并发核销的券会被条件排除，不会被破坏。
	BatchUpdateStatus(ctx context.Context, ids []int64, status CouponStatus, ts time.Time) (int64, error)

	// Transact 在一个数据库事务中执行 fn；fn 收到的仓储实例绑定到该事务。
	Transact(ctx context.Context, fn func(repo CouponRepository) error) error
}

// PolicyRepository 是优惠券策略的持久化契约。
type PolicyRepository interface {
	Create(ctx context.Context, policy *CouponPolicy) error
	FindByID(ctx context.Context, id int64) (*CouponPolicy, error)
	FindByCode(ctx context.Context, code string) (*CouponPolicy, error)

	// AtomicDecrementStock 以一条不可分割的条件更新消耗一个发放名额：
	//   UPDATE ... SET current = current + 1
	//   WHERE id = ? AND (max IS NULL OR current < max)
	// 返回 true 当且仅当成功占到一个名额。这是防止超发的唯一权威路径，
	// 进程内的读-改-写在多实例部署下不可信。
	AtomicDecrementStock(ctx context.Context, policyID int64) (bool, error)

	// UpdateMaxIssueCount 调整库存上限；newMax 为 nil 表示改为不限量。
	// 实现必须保证新上限不低于已发放数量（条件更新或锁内校验）。
	UpdateMaxIssueCount(ctx context.Context, policyID int64, newMax *int) error
}
