// internal/service/coupon/application/jobs.go
package application

import (
	"context"
	"time"

	"promo/internal/pkg/logger"
	"promo/internal/service/coupon/domain"
	"promo/internal/service/coupon/port"
)

// RunExclusive 保证一个计划任务在集群内同一时刻只有一个实例执行。
// 抢不到任务锁说明另一个实例正在跑，本轮直接跳过，不算失败。
// 任务本身必须幂等：租约到期后锁自动失效，长任务可能出现短暂的双跑。
func RunExclusive(ctx context.Context, lock port.LockService, jobKey string, maxHold time.Duration, fn func(ctx context.Context) error) error {
	token, err := lock.TryAcquire(ctx, jobKey, 0, maxHold)
	if err != nil {
		if domain.IsKind(err, domain.KindLockAcquisitionFailed) {
			logger.Ctx(ctx).Debug().Str("job", jobKey).Msg("ℹ️ 任务锁被其他实例持有，本轮跳过")
			return nil
		}
		return err
	}
	defer lock.Release(ctx, jobKey, token)

	return fn(ctx)
}
