// internal/pkg/constants/constants.go
package constants

// Kafka 主题与消费组
const (
	PaymentEventsTopic        = "payment-events"
	PaymentConsumerGroupID    = "coupon-payment-consumer-group"
	CouponEventsTopic         = "coupon-events"
	CouponPushConsumerGroupID = "coupon-push-gateway-group"
)

// 分布式锁的 Key 前缀与任务名
const (
	CouponCodeLockPrefix  = "lock:coupon:code:"
	CouponIssueLockPrefix = "lock:coupon:issue:"
	PolicyAdminLockPrefix = "lock:coupon:policy:"
	ReservationTimeoutJob = "job:coupon:reservation-timeout"
	ExpirySweepJob        = "job:coupon:expiry-sweep"
	ExpiryQuickSweepJob   = "job:coupon:expiry-quick-sweep"
)
