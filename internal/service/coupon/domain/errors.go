// internal/service/coupon/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// ErrorKind 枚举了优惠券域内所有可预期的业务错误。
// 调用方通过 kind 分流处理，而不是依赖一棵庞大的异常继承树。
type ErrorKind int

const (
	KindUnknown ErrorKind = iota

	// 容量类：终态错误，调用方不应自动重试
	KindStockExhausted
	KindUserLimitExceeded

	// 时间类：终态错误
	KindPolicyNotYetActive
	KindPolicyExpired
	KindCouponExpired

	// 状态冲突类：同步调用方视为业务结果，支付对账路径视为需要重投的错误
	KindNotReservable
	KindNotInReservedState
	KindReservationNotFound

	// 查找类
	KindPolicyNotFound
	KindPolicyNotActive
	KindCouponNotFound

	// 基础设施类：可重试，需要与业务拒绝区分开
	KindLockAcquisitionFailed
)

var kindNames = map[ErrorKind]string{
	KindUnknown:               "UNKNOWN",
	KindStockExhausted:        "STOCK_EXHAUSTED",
	KindUserLimitExceeded:     "USER_LIMIT_EXCEEDED",
	KindPolicyNotYetActive:    "POLICY_NOT_YET_ACTIVE",
	KindPolicyExpired:         "POLICY_EXPIRED",
	KindCouponExpired:         "COUPON_EXPIRED",
	KindNotReservable:         "NOT_RESERVABLE",
	KindNotInReservedState:    "NOT_IN_RESERVED_STATE",
	KindReservationNotFound:   "RESERVATION_NOT_FOUND",
	KindPolicyNotFound:        "POLICY_NOT_FOUND",
	KindPolicyNotActive:       "POLICY_NOT_ACTIVE",
	KindCouponNotFound:        "COUPON_NOT_FOUND",
	KindLockAcquisitionFailed: "LOCK_ACQUISITION_FAILED",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// Error 是优惠券域唯一的业务错误类型。
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError 创建一个带类别的业务错误。
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError 在保留底层原因的同时附加业务类别。
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf 提取错误的业务类别；非域内错误返回 KindUnknown, false。
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindUnknown, false
}

// IsKind 判断错误是否属于指定类别。
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsRetryable 区分"稍后重试"和"这张券已经没了"。
// 锁竞争失败属于前者；容量、时间、状态类错误都属于后者。
func IsRetryable(err error) bool {
	return IsKind(err, KindLockAcquisitionFailed)
}
