// internal/service/coupon/application/service.go
package application

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"promo/internal/pkg/constants"
	"promo/internal/pkg/logger"
	"promo/internal/service/coupon/domain"
	"promo/internal/service/coupon/port"
)

// CouponApplicationService 编排优惠券的发放、占用与核销用例。
// 领域规则都在 domain 包里，这一层只负责事务边界、锁、快路径和事件广播。
type CouponApplicationService struct {
	couponRepo domain.CouponRepository
	policyRepo domain.PolicyRepository
	lock       port.LockService
	fastStock  port.FastStockService
	rules      domain.RuleEngine
	publisher  port.EventPublisher
	tracer     trace.Tracer

	lockWait  time.Duration
	lockLease time.Duration

	// 可注入的时钟，测试用
	now func() time.Time
}

func NewCouponApplicationService(
	couponRepo domain.CouponRepository,
	policyRepo domain.PolicyRepository,
	lock port.LockService,
	fastStock port.FastStockService,
	rules domain.RuleEngine,
	publisher port.EventPublisher,
	tracer trace.Tracer,
	lockWait, lockLease time.Duration,
) *CouponApplicationService {
	return &CouponApplicationService{
		couponRepo: couponRepo,
		policyRepo: policyRepo,
		lock:       lock,
		fastStock:  fastStock,
		rules:      rules,
		publisher:  publisher,
		tracer:     tracer,
		lockWait:   lockWait,
		lockLease:  lockLease,
		now:        time.Now,
	}
}

// CreatePolicy 创建一个新的优惠券策略。
func (s *CouponApplicationService) CreatePolicy(ctx context.Context, req *CreatePolicyRequest) (*domain.CouponPolicy, error) {
	ctx, span := s.tracer.Start(ctx, "CouponService.CreatePolicy")
	defer span.End()

	policy := &domain.CouponPolicy{
		Name:              req.Name,
		Code:              req.Code,
		DiscountType:      domain.DiscountType(req.DiscountType),
		DiscountValue:     req.DiscountValue,
		MinOrderAmount:    req.MinOrderAmount,
		MaxDiscountAmount: req.MaxDiscountAmount,
		Applicability:     req.Applicability,
		DistributionMode:  domain.DistributionMode(req.DistributionMode),
		ValidFrom:         req.ValidFrom,
		ValidUntil:        req.ValidUntil,
		MaxIssueCount:     req.MaxIssueCount,
		PerUserLimit:      req.PerUserLimit,
		Active:            true,
	}
	if err := s.policyRepo.Create(ctx, policy); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("name", req.Name).Msg("🛑 创建优惠券策略失败")
		return nil, err
	}

	// 活动抢券策略需要预热 Redis 库存
	if policy.DistributionMode == domain.ModeEventIssue && policy.MaxIssueCount != nil {
		if err := s.fastStock.Prepare(ctx, policy.ID, *policy.MaxIssueCount); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Int64("policy_id", policy.ID).
				Msg("⚠️ 活动库存预热失败，快路径将直接放行到数据库")
		}
	}

	logger.Ctx(ctx).Info().Int64("policy_id", policy.ID).Str("name", policy.Name).Msg("✅ 优惠券策略已创建")
	return policy, nil
}

// UpdatePolicyQuantity 管理端调整策略的库存上限。
// 在管理锁内校验"新上限不低于已发放数量"，再走条件更新兜底。
func (s *CouponApplicationService) UpdatePolicyQuantity(ctx context.Context, req *UpdatePolicyQuantityRequest) error {
	ctx, span := s.tracer.Start(ctx, "CouponService.UpdatePolicyQuantity")
	defer span.End()

	lockKey := constants.PolicyAdminLockPrefix + strconv.FormatInt(req.PolicyID, 10)
	return port.WithLock(ctx, s.lock, lockKey, s.lockWait, s.lockLease, func(ctx context.Context) error {
		policy, err := s.policyRepo.FindByID(ctx, req.PolicyID)
		if err != nil {
			return err
		}
		if err := policy.BoundedMaxIssueCount(req.MaxIssueCount); err != nil {
			return err
		}
		if err := s.policyRepo.UpdateMaxIssueCount(ctx, req.PolicyID, req.MaxIssueCount); err != nil {
			return err
		}
		logger.Ctx(ctx).Info().Int64("policy_id", req.PolicyID).Msg("✅ 策略库存上限已调整")
		return nil
	})
}

// IssueByPolicy 按策略 ID 给用户发一张券。
// 防超发的权威路径是 AtomicDecrementStock 的条件更新；
// EVENT_ISSUE 模式额外套一层 Redis 快路径，把抢券洪峰挡在数据库之外。
func (s *CouponApplicationService) IssueByPolicy(ctx context.Context, policyID int64, userID string) (*domain.CouponIssue, error) {
	ctx, span := s.tracer.Start(ctx, "CouponService.IssueByPolicy",
		trace.WithAttributes(attribute.Int64("coupon.policy_id", policyID)))
	defer span.End()

	policy, err := s.policyRepo.FindByID(ctx, policyID)
	if err != nil {
		return nil, err
	}

	// 直接发放没有兑换码锁、也没有 Redis 去重兜底，
	// 同一用户的并发请求在 (policy, user) 锁内串行化，限领校验才不会被双双放过
	if policy.DistributionMode == domain.ModeDirectIssue {
		var issued *domain.CouponIssue
		lockKey := constants.CouponIssueLockPrefix + strconv.FormatInt(policyID, 10) + ":" + userID
		err := port.WithLock(ctx, s.lock, lockKey, s.lockWait, s.lockLease, func(ctx context.Context) error {
			var err error
			issued, err = s.issue(ctx, policy, userID)
			return err
		})
		if err != nil {
			return nil, err
		}
		return issued, nil
	}

	return s.issue(ctx, policy, userID)
}

// IssueByCode 用户凭兑换码领券。
// 同一个码的并发领取在分布式锁内串行化，避免同码反复打穿库存预检。
func (s *CouponApplicationService) IssueByCode(ctx context.Context, code, userID string) (*domain.CouponIssue, error) {
	ctx, span := s.tracer.Start(ctx, "CouponService.IssueByCode")
	defer span.End()

	var issued *domain.CouponIssue
	err := port.WithLock(ctx, s.lock, constants.CouponCodeLockPrefix+code, s.lockWait, s.lockLease, func(ctx context.Context) error {
		policy, err := s.policyRepo.FindByCode(ctx, code)
		if err != nil {
			return err
		}
		issued, err = s.issue(ctx, policy, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

func (s *CouponApplicationService) issue(ctx context.Context, policy *domain.CouponPolicy, userID string) (*domain.CouponIssue, error) {
	now := s.now()

	if err := policy.IsIssuable(now); err != nil {
		s.countDenied(err)
		return nil, err
	}

	// 单用户限领校验
	if policy.PerUserLimit > 0 {
		count, err := s.couponRepo.CountByPolicyAndUser(ctx, policy.ID, userID)
		if err != nil {
			return nil, err
		}
		if count >= int64(policy.PerUserLimit) {
			err := domain.NewError(domain.KindUserLimitExceeded,
				"user %s already holds %d coupons of policy %d, limit %d", userID, count, policy.ID, policy.PerUserLimit)
			s.countDenied(err)
			return nil, err
		}
	}

	// 活动抢券快路径：Redis 一步完成去重 + 预扣
	tookFastPath := false
	if policy.DistributionMode == domain.ModeEventIssue {
		result, err := s.fastStock.TryTake(ctx, policy.ID, userID)
		if err != nil {
			// 快路径故障时退化为纯数据库路径，不拦截请求
			logger.Ctx(ctx).Warn().Err(err).Int64("policy_id", policy.ID).Msg("⚠️ 抢券快路径不可用，回退数据库路径")
		} else {
			switch result {
			case port.FastStockSoldOut:
				err := domain.NewError(domain.KindStockExhausted, "policy %d sold out", policy.ID)
				s.countDenied(err)
				return nil, err
			case port.FastStockAlreadyTaken:
				err := domain.NewError(domain.KindUserLimitExceeded, "user %s already took policy %d", userID, policy.ID)
				s.countDenied(err)
				return nil, err
			}
			tookFastPath = true
		}
	}

	// 权威扣减：条件更新，占不到名额即为抢空
	granted, err := s.policyRepo.AtomicDecrementStock(ctx, policy.ID)
	if err != nil {
		if tookFastPath {
			s.restoreFastStock(ctx, policy.ID, userID)
		}
		return nil, err
	}
	if !granted {
		if tookFastPath {
			s.restoreFastStock(ctx, policy.ID, userID)
		}
		err := domain.NewError(domain.KindStockExhausted, "policy %d has no remaining stock", policy.ID)
		s.countDenied(err)
		return nil, err
	}

	coupon := domain.NewCouponIssue(policy, userID, now)
	if err := s.couponRepo.Create(ctx, coupon); err != nil {
		logger.Ctx(ctx).Error().Err(err).Int64("policy_id", policy.ID).Str("user_id", userID).Msg("🛑 优惠券落库失败")
		if tookFastPath {
			s.restoreFastStock(ctx, policy.ID, userID)
		}
		return nil, err
	}

	couponsIssuedTotal.Inc()
	logger.Ctx(ctx).Info().Int64("coupon_id", coupon.ID).Int64("policy_id", policy.ID).
		Str("user_id", userID).Msg("✅ 优惠券发放成功")

	s.publishEvent(ctx, &domain.CouponEvent{
		Type:       domain.EventCouponIssued,
		CouponID:   coupon.ID,
		PolicyID:   coupon.PolicyID,
		UserID:     coupon.UserID,
		OccurredAt: now,
	})
	return coupon, nil
}

// Reserve 在下单时占用一张券。
// "不可占用"是业务结果而不是错误：返回 Reserved=false，调用方换一张券即可。
// 适用范围与金额门槛不满足同样走 false 分支。
func (s *CouponApplicationService) Reserve(ctx context.Context, req *ReserveCouponRequest) (*ReserveCouponResponse, error) {
	ctx, span := s.tracer.Start(ctx, "CouponService.Reserve",
		trace.WithAttributes(attribute.Int64("coupon.issue_id", req.IssueID)))
	defer span.End()

	reservationID := uuid.NewString()
	resp := &ReserveCouponResponse{}

	var reserved *domain.CouponIssue
	err := s.couponRepo.Transact(ctx, func(repo domain.CouponRepository) error {
		coupon, err := repo.FindByIDForUpdate(ctx, req.IssueID)
		if err != nil {
			return err
		}
		if coupon.UserID != req.UserID {
			return domain.NewError(domain.KindCouponNotFound, "coupon %d does not belong to user %s", req.IssueID, req.UserID)
		}

		policy, err := s.policyRepo.FindByID(ctx, coupon.PolicyID)
		if err != nil {
			return err
		}

		// 适用范围规则不匹配不是错误，属于"这张券用不了"
		ok, err := s.rules.Evaluate(policy.Applicability, domain.Fact{
			UserID:      req.UserID,
			OrderAmount: req.OrderAmount,
			ItemIDs:     req.ItemIDs,
		})
		if err != nil {
			return err
		}
		if !ok {
			resp.Message = "coupon not applicable to this order"
			return nil
		}

		discount, err := policy.CalculateDiscount(req.OrderAmount)
		if err != nil {
			if domain.IsKind(err, domain.KindNotReservable) {
				resp.Message = err.Error()
				return nil
			}
			return err
		}

		if !coupon.Reserve(reservationID, s.now()) {
			resp.Message = "coupon is not reservable in its current state"
			return nil
		}
		if err := repo.Save(ctx, coupon); err != nil {
			return err
		}

		resp.Reserved = true
		resp.ReservationID = reservationID
		resp.DiscountAmount = discount
		reserved = coupon
		return nil
	})
	if err != nil {
		return nil, err
	}

	if resp.Reserved {
		couponsReservedTotal.Inc()
		logger.Ctx(ctx).Info().Int64("coupon_id", req.IssueID).
			Str("reservation_id", resp.ReservationID).Msg("✅ 优惠券占用成功")
		s.publishEvent(ctx, &domain.CouponEvent{
			Type:          domain.EventCouponReserved,
			CouponID:      reserved.ID,
			PolicyID:      reserved.PolicyID,
			UserID:        reserved.UserID,
			ReservationID: resp.ReservationID,
			OccurredAt:    s.now(),
		})
	} else {
		logger.Ctx(ctx).Info().Int64("coupon_id", req.IssueID).Str("reason", resp.Message).Msg("ℹ️ 优惠券不可占用")
	}
	return resp, nil
}

// Release 按占用凭据释放一张券。
// 凭据查不到视为幂等成功：占用凭据全局唯一且不复用，
// 查不到只可能是已经被释放、核销或清扫过。
func (s *CouponApplicationService) Release(ctx context.Context, reservationID string) error {
	ctx, span := s.tracer.Start(ctx, "CouponService.Release")
	defer span.End()

	return s.release(ctx, reservationID, "manual")
}

func (s *CouponApplicationService) release(ctx context.Context, reservationID, trigger string) error {
	var released *domain.CouponIssue
	err := s.couponRepo.Transact(ctx, func(repo domain.CouponRepository) error {
		coupon, err := repo.FindByReservationIDForUpdate(ctx, reservationID)
		if err != nil {
			if domain.IsKind(err, domain.KindReservationNotFound) {
				logger.Ctx(ctx).Info().Str("reservation_id", reservationID).
					Msg("ℹ️ 占用凭据不存在，按幂等成功处理")
				return nil
			}
			return err
		}
		if !coupon.Release() {
			// 并发下已被其他路径处理掉，同样幂等
			return nil
		}
		if err := repo.Save(ctx, coupon); err != nil {
			return err
		}
		released = coupon
		return nil
	})
	if err != nil {
		return err
	}

	if released != nil {
		couponsReleasedTotal.WithLabelValues(trigger).Inc()
		logger.Ctx(ctx).Info().Int64("coupon_id", released.ID).
			Str("reservation_id", reservationID).Str("trigger", trigger).Msg("✅ 优惠券占用已释放")
		s.publishEvent(ctx, &domain.CouponEvent{
			Type:          domain.EventCouponReleased,
			CouponID:      released.ID,
			PolicyID:      released.PolicyID,
			UserID:        released.UserID,
			ReservationID: reservationID,
			OccurredAt:    s.now(),
		})
	}
	return nil
}

// ConfirmUsage 在支付成功后把占用中的券核销为已使用。
// 重复投递的识别分两层：凭据还在，说明是第一次，正常核销；
// 凭据已清空但订单号能查到一张 USED 的券，说明是重复投递，幂等返回成功。
func (s *CouponApplicationService) ConfirmUsage(ctx context.Context, reservationID, orderID string, discountAmount int64) error {
	ctx, span := s.tracer.Start(ctx, "CouponService.ConfirmUsage")
	defer span.End()

	var used *domain.CouponIssue
	err := s.couponRepo.Transact(ctx, func(repo domain.CouponRepository) error {
		coupon, err := repo.FindByReservationIDForUpdate(ctx, reservationID)
		if err != nil {
			if domain.IsKind(err, domain.KindReservationNotFound) {
				return s.checkDuplicateUsage(ctx, repo, reservationID, orderID)
			}
			return err
		}
		if err := coupon.ConfirmUsage(orderID, discountAmount, s.now()); err != nil {
			return err
		}
		if err := repo.Save(ctx, coupon); err != nil {
			return err
		}
		used = coupon
		return nil
	})
	if err != nil {
		return err
	}

	if used != nil {
		couponsUsedTotal.Inc()
		logger.Ctx(ctx).Info().Int64("coupon_id", used.ID).Str("order_id", orderID).Msg("✅ 优惠券核销成功")
		s.publishEvent(ctx, &domain.CouponEvent{
			Type:       domain.EventCouponUsed,
			CouponID:   used.ID,
			PolicyID:   used.PolicyID,
			UserID:     used.UserID,
			OrderID:    orderID,
			OccurredAt: s.now(),
		})
	}
	return nil
}

// checkDuplicateUsage 判定支付成功事件是否为重复投递。
// 能按订单号找到一张已核销的券即为重复，幂等吞掉；否则这是一条
// 对不上任何占用的事件，必须作为错误暴露给重投机制。
func (s *CouponApplicationService) checkDuplicateUsage(ctx context.Context, repo domain.CouponRepository, reservationID, orderID string) error {
	coupon, err := repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if domain.IsKind(err, domain.KindCouponNotFound) {
			return domain.NewError(domain.KindReservationNotFound,
				"reservation %s not found and order %s has no used coupon", reservationID, orderID)
		}
		return err
	}
	if coupon.Status == domain.StatusUsed {
		logger.Ctx(ctx).Info().Int64("coupon_id", coupon.ID).Str("order_id", orderID).
			Msg("ℹ️ 支付成功事件重复投递，核销已完成")
		return nil
	}
	return domain.NewError(domain.KindNotInReservedState,
		"coupon %d for order %s is %s, expected USED", coupon.ID, orderID, coupon.Status)
}

// HandlePaymentOutcome 处理支付系统投递的支付结果事件。
// 返回 nil 表示可以提交位点；返回错误表示处理失败，消息需要重投。
func (s *CouponApplicationService) HandlePaymentOutcome(ctx context.Context, event *domain.PaymentOutcomeEvent) error {
	ctx, span := s.tracer.Start(ctx, "CouponService.HandlePaymentOutcome",
		trace.WithAttributes(attribute.String("payment.status", event.Status)))
	defer span.End()

	// 未使用优惠券的订单也会投递事件，凭据为空直接确认
	if event.ReservationID == "" {
		paymentEventsTotal.WithLabelValues(event.Status, "no_coupon").Inc()
		return nil
	}

	var err error
	switch event.Status {
	case domain.PaymentSucceeded:
		err = s.ConfirmUsage(ctx, event.ReservationID, event.OrderID, event.DiscountAmount)
	case domain.PaymentFailed:
		err = s.release(ctx, event.ReservationID, "payment_failed")
	default:
		// 未知状态按成功提交处理，避免毒消息阻塞分区
		logger.Ctx(ctx).Warn().Str("status", event.Status).Str("event_id", event.EventID).
			Msg("⚠️ 未知的支付结果状态，跳过")
		paymentEventsTotal.WithLabelValues(event.Status, "skipped").Inc()
		return nil
	}

	if err != nil {
		paymentEventsTotal.WithLabelValues(event.Status, "error").Inc()
		logger.Ctx(ctx).Error().Err(err).Str("event_id", event.EventID).
			Str("reservation_id", event.ReservationID).Msg("🛑 支付结果事件处理失败")
		return err
	}
	paymentEventsTotal.WithLabelValues(event.Status, "ok").Inc()
	return nil
}

// ListUserCoupons 分页查询用户持有的优惠券。
func (s *CouponApplicationService) ListUserCoupons(ctx context.Context, userID string, page, pageSize int) ([]*CouponResponse, error) {
	ctx, span := s.tracer.Start(ctx, "CouponService.ListUserCoupons")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	coupons, err := s.couponRepo.FindByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, err
	}
	resp := make([]*CouponResponse, 0, len(coupons))
	for _, c := range coupons {
		resp = append(resp, ToCouponResponse(c))
	}
	return resp, nil
}

// CancelCoupon 管理端作废一张券。已核销、已过期或已作废的券不可再作废。
func (s *CouponApplicationService) CancelCoupon(ctx context.Context, id int64) error {
	ctx, span := s.tracer.Start(ctx, "CouponService.CancelCoupon")
	defer span.End()

	var cancelled *domain.CouponIssue
	err := s.couponRepo.Transact(ctx, func(repo domain.CouponRepository) error {
		coupon, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !coupon.Cancel() {
			if coupon.Status == domain.StatusCancelled {
				// 重复作废按幂等成功
				return nil
			}
			return domain.NewError(domain.KindNotReservable,
				"coupon %d is %s and cannot be cancelled", coupon.ID, coupon.Status)
		}
		if err := repo.Save(ctx, coupon); err != nil {
			return err
		}
		cancelled = coupon
		return nil
	})
	if err != nil {
		return err
	}

	if cancelled != nil {
		logger.Ctx(ctx).Info().Int64("coupon_id", id).Msg("✅ 优惠券已作废")
		s.publishEvent(ctx, &domain.CouponEvent{
			Type:       domain.EventCouponCancelled,
			CouponID:   cancelled.ID,
			PolicyID:   cancelled.PolicyID,
			UserID:     cancelled.UserID,
			OccurredAt: s.now(),
		})
	}
	return nil
}

// GetCoupon 查询单张优惠券。
func (s *CouponApplicationService) GetCoupon(ctx context.Context, id int64) (*CouponResponse, error) {
	coupon, err := s.couponRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToCouponResponse(coupon), nil
}

func (s *CouponApplicationService) countDenied(err error) {
	kind, _ := domain.KindOf(err)
	couponsDeniedTotal.WithLabelValues(kind.String()).Inc()
}

func (s *CouponApplicationService) restoreFastStock(ctx context.Context, policyID int64, userID string) {
	if err := s.fastStock.Restore(ctx, policyID, userID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("policy_id", policyID).
			Str("user_id", userID).Msg("⚠️ 活动库存补偿归还失败")
	}
}

func (s *CouponApplicationService) publishEvent(ctx context.Context, event *domain.CouponEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("type", event.Type).
			Int64("coupon_id", event.CouponID).Msg("⚠️ 优惠券事件发布失败")
	}
}
