// internal/service/coupon/infrastructure/adapter/stock_redis_adapter.go
package adapter

import (
	"context"
	"fmt"

	"promo/internal/pkg/redis"
	"promo/internal/service/coupon/port"
)

const (
	takeStockScriptName    = "coupon_take_stock"
	restoreStockScriptName = "coupon_restore_stock"
)

// StockRedisAdapter 是 port.FastStockService 的 Redis 实现。
// 活动抢券的去重和扣减在一段 Lua 脚本里原子完成，
// 把售罄和重复领取的请求挡在数据库之外。
type StockRedisAdapter struct {
	redisClient *redis.Client
}

// NewStockRedisAdapter 创建一个新的抢券快路径适配器实例。
// 它在创建时会加载所有需要的 Lua 脚本。
func NewStockRedisAdapter(redisClient *redis.Client) (*StockRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(takeStockScriptName, takeStockScript); err != nil {
		return nil, fmt.Errorf("failed to load take-stock script: %w", err)
	}
	if err := redisClient.LoadScriptFromContent(restoreStockScriptName, restoreStockScript); err != nil {
		return nil, fmt.Errorf("failed to load restore-stock script: %w", err)
	}
	return &StockRedisAdapter{redisClient: redisClient}, nil
}

func (a *StockRedisAdapter) keys(policyID int64) []string {
	// hash tag 保证两个 key 落在同一个 slot，集群模式下脚本才能执行
	stockKey := fmt.Sprintf("coupon:stock:{%d}", policyID)
	userSetKey := fmt.Sprintf("coupon:users:{%d}", policyID)
	return []string{stockKey, userSetKey}
}

// TryTake 尝试为用户占一个活动名额。
func (a *StockRedisAdapter) TryTake(ctx context.Context, policyID int64, userID string) (port.FastStockResult, error) {
	result, err := a.redisClient.RunScript(ctx, takeStockScriptName, a.keys(policyID), userID)
	if err != nil {
		return 0, fmt.Errorf("stock adapter failed to run script: %w", err)
	}
	code, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from Lua script: %T", result)
	}
	switch code {
	case 1:
		return port.FastStockGranted, nil
	case 0:
		return port.FastStockSoldOut, nil
	case 2:
		return port.FastStockAlreadyTaken, nil
	default:
		return 0, fmt.Errorf("unknown result code from take-stock script: %d", code)
	}
}

// Restore 归还一个名额，用于数据库权威扣减失败后的补偿。
func (a *StockRedisAdapter) Restore(ctx context.Context, policyID int64, userID string) error {
	_, err := a.redisClient.RunScript(ctx, restoreStockScriptName, a.keys(policyID), userID)
	if err != nil {
		return fmt.Errorf("stock adapter failed to restore stock: %w", err)
	}
	return nil
}

// Prepare 初始化活动库存（管理端/测试用）。
func (a *StockRedisAdapter) Prepare(ctx context.Context, policyID int64, stock int) error {
	keys := a.keys(policyID)
	// 使用 pipeline 提高效率
	pipe := a.redisClient.GetClient().Pipeline()
	pipe.Set(ctx, keys[0], stock, 0)
	pipe.Del(ctx, keys[1])
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to prepare coupon stock: %w", err)
	}
	return nil
}

var takeStockScript = `
-- KEYS[1]: 活动库存的 Key, 例如: coupon:stock:{42}
-- KEYS[2]: 已领取用户集合的 Key, 例如: coupon:users:{42}
-- ARGV[1]: 当前领取用户的 ID

-- 1. 检查用户是否已领取过
if redis.call('sismember', KEYS[2], ARGV[1]) == 1 then
    return 2 -- 重复领取
end

-- 2. 获取当前库存
local stock = tonumber(redis.call('get', KEYS[1]))

-- 3. 检查库存是否充足
if stock and stock > 0 then
    redis.call('decr', KEYS[1])
    redis.call('sadd', KEYS[2], ARGV[1])
    return 1 -- 占到名额
else
    return 0 -- 已抢完
end
`

var restoreStockScript = `
-- 补偿路径：把名额加回去，并把用户从已领取集合里移除
if redis.call('srem', KEYS[2], ARGV[1]) == 1 then
    redis.call('incr', KEYS[1])
    return 1
end
return 0
`
