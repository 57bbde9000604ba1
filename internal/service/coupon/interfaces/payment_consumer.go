// internal/service/coupon/interfaces/payment_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"promo/internal/pkg/logger"
	"promo/internal/pkg/mq"
	"promo/internal/service/coupon/application"
	"promo/internal/service/coupon/domain"
)

// 单条消息的就地重试次数与退避间隔
const (
	processMaxAttempts = 3
	processRetryDelay  = 500 * time.Millisecond
)

// PaymentConsumerAdapter 是一个驱动适配器，监听支付结果主题并驱动应用服务。
// 投递语义是 at-least-once：只有处理成功（或确认为毒消息）才提交位点，
// 幂等性由应用服务层保证。
type PaymentConsumerAdapter struct {
	reader  *kafka.Reader
	appSvc  *application.CouponApplicationService
	wg      sync.WaitGroup
	stopped atomic.Bool
}

// NewPaymentConsumerAdapter 创建一个新的支付结果消费者适配器。
func NewPaymentConsumerAdapter(reader *kafka.Reader, appSvc *application.CouponApplicationService) *PaymentConsumerAdapter {
	return &PaymentConsumerAdapter{
		reader: reader,
		appSvc: appSvc,
	}
}

// Start 开始监听支付结果主题。这是一个长期运行的方法。
func (a *PaymentConsumerAdapter) Start(ctx context.Context) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("✅ 支付结果消费者已启动")
		for {
			if a.stopped.Load() {
				return
			}
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("🛑 支付结果消费者退出")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("🛑 拉取支付结果消息失败，稍后重试")
				time.Sleep(1 * time.Second)
				continue
			}

			propagator := otel.GetTextMapPropagator()
			headerCarrier := mq.KafkaHeaderCarrier(msg.Headers)
			msgCtx := propagator.Extract(ctx, &headerCarrier)

			if !a.processMessage(msgCtx, msg) {
				// 处理失败且重试耗尽：不提交位点，让消息重新投递。
				// 退避一下，避免在持续故障时空转打爆下游。
				time.Sleep(1 * time.Second)
				continue
			}

			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("🛑 提交消费位点失败")
			}
		}
	}()

	return nil
}

// Stop 优雅地停止消费者。
func (a *PaymentConsumerAdapter) Stop(ctx context.Context) {
	a.stopped.Store(true)
	a.reader.Close()
	a.wg.Wait()
	logger.Ctx(ctx).Info().Msg("✅ 支付结果消费者已停止")
}

// processMessage 反序列化并处理一条支付结果，带就地重试。
// 返回 true 表示可以提交位点。
func (a *PaymentConsumerAdapter) processMessage(ctx context.Context, msg kafka.Message) bool {
	var event domain.PaymentOutcomeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// 反序列化失败是毒消息，重投也不会变好，提交位点跳过。
		// 生产环境应同时转存死信队列。
		logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).
			Msg("🛑 支付结果消息反序列化失败，跳过")
		return true
	}

	var err error
	for attempt := 1; attempt <= processMaxAttempts; attempt++ {
		err = a.appSvc.HandlePaymentOutcome(ctx, &event)
		if err == nil {
			return true
		}
		if attempt < processMaxAttempts {
			logger.Ctx(ctx).Warn().Err(err).Str("event_id", event.EventID).
				Int("attempt", attempt).Msg("⚠️ 支付结果处理失败，就地重试")
			time.Sleep(processRetryDelay)
		}
	}

	logger.Ctx(ctx).Error().Err(err).Str("event_id", event.EventID).
		Str("reservation_id", event.ReservationID).Msg("🛑 支付结果处理重试耗尽，等待重新投递")
	return false
}
