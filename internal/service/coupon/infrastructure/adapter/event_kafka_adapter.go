// internal/service/coupon/infrastructure/adapter/event_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"promo/internal/pkg/logger"
	"promo/internal/pkg/mq"
	"promo/internal/service/coupon/domain"
)

// EventKafkaAdapter 是 port.EventPublisher 的 Kafka 实现。
// 以 userID 作为消息 Key，保证同一个用户的事件按序进入同一分区。
type EventKafkaAdapter struct {
	writer *kafka.Writer
}

// NewEventKafkaAdapter 创建一个新的事件发布适配器。
func NewEventKafkaAdapter(writer *kafka.Writer) *EventKafkaAdapter {
	return &EventKafkaAdapter{writer: writer}
}

func (p *EventKafkaAdapter) Publish(ctx context.Context, event *domain.CouponEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to marshal coupon event")
		return err
	}
	if err := mq.ProduceMessage(ctx, p.writer, []byte(event.UserID), eventBytes); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("event_type", event.Type).Msg("failed to produce coupon event")
		return err
	}
	return nil
}
