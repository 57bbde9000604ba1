// internal/service/coupon/application/metrics.go
package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	couponsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coupon_issued_total",
		Help: "Total number of coupons successfully issued.",
	})

	couponsDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_issue_denied_total",
		Help: "Total number of issuance attempts denied, by reason.",
	}, []string{"reason"})

	couponsReservedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coupon_reserved_total",
		Help: "Total number of successful reservations.",
	})

	couponsReleasedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_released_total",
		Help: "Total number of reservations released, by trigger.",
	}, []string{"trigger"})

	couponsUsedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coupon_used_total",
		Help: "Total number of coupons confirmed as used.",
	})

	couponsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coupon_expired_total",
		Help: "Total number of coupons transitioned to EXPIRED by the sweeper.",
	})

	reservationsTimedOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coupon_reservation_timeout_total",
		Help: "Total number of reservations reclaimed by the timeout reconciler.",
	})

	paymentEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_payment_events_total",
		Help: "Payment outcome events processed, by outcome and result.",
	}, []string{"outcome", "result"})
)
