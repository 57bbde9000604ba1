// internal/service/coupon/infrastructure/adapter/lock_redis_adapter.go
package adapter

import (
	"context"
	"errors"
	"time"

	"promo/internal/pkg/logger"
	"promo/internal/pkg/redis"
	"promo/internal/service/coupon/domain"
)

// RedisLockAdapter 是 port.LockService 的 Redis 租约实现。
// SET NX PX 抢锁，Lua 比对 token 后删除，租约到期自动失效。
type RedisLockAdapter struct {
	redisClient *redis.Client
}

// NewRedisLockAdapter 创建一个新的 Redis 锁适配器实例。
func NewRedisLockAdapter(redisClient *redis.Client) *RedisLockAdapter {
	return &RedisLockAdapter{redisClient: redisClient}
}

func (a *RedisLockAdapter) TryAcquire(ctx context.Context, key string, wait, lease time.Duration) (string, error) {
	token, err := a.redisClient.AcquireLock(ctx, key, wait, lease)
	if err != nil {
		if errors.Is(err, redis.ErrNotAcquired) {
			return "", domain.WrapError(domain.KindLockAcquisitionFailed, err,
				"could not acquire lock %q within %s", key, wait)
		}
		return "", domain.WrapError(domain.KindLockAcquisitionFailed, err, "lock backend error for %q", key)
	}
	return token, nil
}

func (a *RedisLockAdapter) Release(ctx context.Context, key, token string) bool {
	released, err := a.redisClient.ReleaseLock(ctx, key, token)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("lock_key", key).Msg("failed to release lock")
		return false
	}
	if !released {
		// 租约已经到期并被他人重新获取，释放被跳过
		logger.Ctx(ctx).Warn().Str("lock_key", key).Msg("lock already held by another owner, release skipped")
	}
	return released
}
