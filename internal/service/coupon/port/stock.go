// internal/service/coupon/port/stock.go
package port

import "context"

// FastStockResult 是活动抢券快路径的判定结果。
type FastStockResult int

const (
	FastStockSoldOut      FastStockResult = 0 // 已抢完
	FastStockGranted      FastStockResult = 1 // 占到名额
	FastStockAlreadyTaken FastStockResult = 2 // 同一用户重复领取
)

// FastStockService 是 EVENT_ISSUE 模式下的高并发抢券快路径：
// 在进数据库之前先用共享缓存一步完成"去重 + 扣减"，
// 把绝大多数失败请求挡在数据库之外。
// 数据库侧的条件更新仍是最终权威，快路径只是准入过滤。
type FastStockService interface {
	TryTake(ctx context.Context, policyID int64, userID string) (FastStockResult, error)

	// Restore 归还一个名额（数据库权威扣减失败时的补偿）
	Restore(ctx context.Context, policyID int64, userID string) error

	// Prepare 初始化活动库存（管理端/测试用）
	Prepare(ctx context.Context, policyID int64, stock int) error
}
