// internal/service/coupon/application/sweeper.go
package application

import (
	"context"
	"time"

	"promo/internal/pkg/logger"
	"promo/internal/service/coupon/domain"
)

// ExpirySweeper 把已过有效期、仍处于 ISSUED/RESERVED 的券批量置为 EXPIRED。
// 分页扫描 + 条件批量更新：扫描和更新之间被并发核销的行会被条件排除，
// 所以整个过程不需要逐行加锁，重复执行也是幂等的。
type ExpirySweeper struct {
	couponRepo domain.CouponRepository
	batchSize  int

	now func() time.Time
}

func NewExpirySweeper(couponRepo domain.CouponRepository, batchSize int) *ExpirySweeper {
	return &ExpirySweeper{
		couponRepo: couponRepo,
		batchSize:  batchSize,
		now:        time.Now,
	}
}

// Run 执行一轮全量清扫，返回实际置为过期的总行数。
// 每一批都反复取"第一页"：被更新过的行不会再出现在结果里，
// 直到某一页为空即扫完。
func (s *ExpirySweeper) Run(ctx context.Context) (int64, error) {
	now := s.now()
	var total int64

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		page, err := s.couponRepo.FindExpiredPage(ctx, now, s.batchSize)
		if err != nil {
			return total, err
		}
		if len(page) == 0 {
			break
		}

		ids := make([]int64, 0, len(page))
		for _, c := range page {
			ids = append(ids, c.ID)
		}

		updated, err := s.couponRepo.BatchUpdateStatus(ctx, ids, domain.StatusExpired, now)
		if err != nil {
			return total, err
		}
		total += updated
		couponsExpiredTotal.Add(float64(updated))

		// 整页都被并发核销抢先处理掉时 updated 为 0，
		// 但这些行也因此不会再出现在下一页里，循环仍会推进
		logger.Ctx(ctx).Info().Int("page", len(page)).Int64("expired", updated).Msg("ℹ️ 过期清扫推进一批")

		if len(page) < s.batchSize {
			break
		}
	}

	if total > 0 {
		logger.Ctx(ctx).Info().Int64("total", total).Msg("✅ 过期清扫完成")
	}
	return total, nil
}

// RunOnce 只处理一页就返回，给高频轻量清扫用：
// 积压由全量 Run 兜底，这里只保证刚过期的券尽快失效。
func (s *ExpirySweeper) RunOnce(ctx context.Context) (int64, error) {
	now := s.now()

	page, err := s.couponRepo.FindExpiredPage(ctx, now, s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(page) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(page))
	for _, c := range page {
		ids = append(ids, c.ID)
	}

	updated, err := s.couponRepo.BatchUpdateStatus(ctx, ids, domain.StatusExpired, now)
	if err != nil {
		return 0, err
	}
	couponsExpiredTotal.Add(float64(updated))
	if updated > 0 {
		logger.Ctx(ctx).Info().Int64("expired", updated).Msg("ℹ️ 轻量清扫置过期")
	}
	return updated, nil
}
