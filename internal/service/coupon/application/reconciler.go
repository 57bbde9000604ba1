// internal/service/coupon/application/reconciler.go
package application

import (
	"context"
	"time"

	"promo/internal/pkg/logger"
	"promo/internal/service/coupon/domain"
	"promo/internal/service/coupon/port"
)

// ReservationTimeoutReconciler 周期性回收超时的占用：
// 下单占用后既没有支付结果、也没有主动释放的券，超过时限后放回可用状态。
// 与支付结果处理的并发冲突靠行锁内的状态重查解决——
// 扫描到的快照可能已经过期，以锁内看到的状态为准。
type ReservationTimeoutReconciler struct {
	couponRepo domain.CouponRepository
	publisher  port.EventPublisher
	timeout    time.Duration
	batchSize  int

	now func() time.Time
}

func NewReservationTimeoutReconciler(couponRepo domain.CouponRepository, publisher port.EventPublisher, timeout time.Duration, batchSize int) *ReservationTimeoutReconciler {
	return &ReservationTimeoutReconciler{
		couponRepo: couponRepo,
		publisher:  publisher,
		timeout:    timeout,
		batchSize:  batchSize,
		now:        time.Now,
	}
}

// Run 执行一轮超时回收，返回实际释放的张数。
// 逐批反复取"第一页"，直到积压处理完：被释放的行不会再出现在下一页里。
// 单张券的失败只记录日志，不中断本轮其余的回收。
func (r *ReservationTimeoutReconciler) Run(ctx context.Context) (int, error) {
	now := r.now()
	cutoff := now.Add(-r.timeout)
	total := 0

	for {
		candidates, err := r.couponRepo.FindReservedBefore(ctx, cutoff, r.batchSize)
		if err != nil {
			return total, err
		}
		if len(candidates) == 0 {
			break
		}

		logger.Ctx(ctx).Info().Int("candidates", len(candidates)).Msg("ℹ️ 发现疑似超时的占用")

		released := 0
		for _, candidate := range candidates {
			select {
			case <-ctx.Done():
				return total, ctx.Err()
			default:
			}
			if r.reclaim(ctx, candidate.ID, now) {
				released++
			}
		}
		total += released

		// 整页一张都没释放时停下：剩下的要么已被并发处理、
		// 要么回收失败，反复重取同一页只会空转，留待下一轮
		if released == 0 || len(candidates) < r.batchSize {
			break
		}
	}

	if total > 0 {
		logger.Ctx(ctx).Info().Int("released", total).Msg("✅ 超时占用回收完成")
	}
	return total, nil
}

// reclaim 在行锁内重查并释放一张超时的券。
// 返回 false 表示锁内重查发现券已不再超时（被支付核销、被释放、或 ReservedAt 已更新）。
func (r *ReservationTimeoutReconciler) reclaim(ctx context.Context, couponID int64, now time.Time) bool {
	var released *domain.CouponIssue
	var reservationID string

	err := r.couponRepo.Transact(ctx, func(repo domain.CouponRepository) error {
		coupon, err := repo.FindByIDForUpdate(ctx, couponID)
		if err != nil {
			return err
		}
		// 扫描快照到拿到行锁之间，支付结果可能已经处理过这张券
		if !coupon.IsReservationTimedOut(r.timeout, now) {
			return nil
		}
		reservationID = coupon.ReservationID
		if !coupon.Release() {
			return nil
		}
		if err := repo.Save(ctx, coupon); err != nil {
			return err
		}
		released = coupon
		return nil
	})
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Int64("coupon_id", couponID).Msg("🛑 超时占用回收失败，留待下一轮")
		return false
	}
	if released == nil {
		return false
	}

	reservationsTimedOutTotal.Inc()
	couponsReleasedTotal.WithLabelValues("timeout").Inc()
	logger.Ctx(ctx).Info().Int64("coupon_id", released.ID).
		Str("reservation_id", reservationID).Msg("✅ 超时占用已释放")

	if r.publisher != nil {
		event := &domain.CouponEvent{
			Type:          domain.EventCouponReleased,
			CouponID:      released.ID,
			PolicyID:      released.PolicyID,
			UserID:        released.UserID,
			ReservationID: reservationID,
			OccurredAt:    now,
		}
		if err := r.publisher.Publish(ctx, event); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Int64("coupon_id", released.ID).Msg("⚠️ 超时释放事件发布失败")
		}
	}
	return true
}
