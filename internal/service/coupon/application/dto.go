// internal/service/coupon/application/dto.go
package application

import (
	"time"

	"promo/internal/service/coupon/domain"
)

// IssueCouponRequest 领取一张优惠券。PolicyID 和 Code 二选一。
type IssueCouponRequest struct {
	PolicyID int64  `json:"policy_id,omitempty"`
	Code     string `json:"code,omitempty"`
	UserID   string `json:"user_id"`
}

// CouponResponse 是优惠券的对外表示。
type CouponResponse struct {
	ID             int64      `json:"id"`
	PolicyID       int64      `json:"policy_id"`
	UserID         string     `json:"user_id"`
	Status         string     `json:"status"`
	ReservationID  string     `json:"reservation_id,omitempty"`
	OrderID        string     `json:"order_id,omitempty"`
	DiscountType   string     `json:"discount_type"`
	DiscountValue  int64      `json:"discount_value"`
	DiscountAmount int64      `json:"discount_amount,omitempty"`
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
}

// ToCouponResponse 将领域对象转换为响应 DTO。
func ToCouponResponse(c *domain.CouponIssue) *CouponResponse {
	return &CouponResponse{
		ID:             c.ID,
		PolicyID:       c.PolicyID,
		UserID:         c.UserID,
		Status:         string(c.Status),
		ReservationID:  c.ReservationID,
		OrderID:        c.OrderID,
		DiscountType:   string(c.DiscountType),
		DiscountValue:  c.DiscountValue,
		DiscountAmount: c.ActualDiscountAmount,
		IssuedAt:       c.IssuedAt,
		ExpiresAt:      c.ExpiresAt,
		UsedAt:         c.UsedAt,
	}
}

// ReserveCouponRequest 将一张券占用到某个预订单上。
type ReserveCouponRequest struct {
	IssueID     int64    `json:"issue_id"`
	UserID      string   `json:"user_id"`
	OrderAmount int64    `json:"order_amount"`
	ItemIDs     []string `json:"item_ids"`
}

// ReserveCouponResponse 是占用操作的业务结果。
// Reserved 为 false 不是错误——这张券当前不可用，调用方应换一张。
type ReserveCouponResponse struct {
	Reserved       bool   `json:"reserved"`
	ReservationID  string `json:"reservation_id,omitempty"`
	DiscountAmount int64  `json:"discount_amount,omitempty"`
	Message        string `json:"message,omitempty"`
}

// ReleaseCouponRequest 释放一个占用。
type ReleaseCouponRequest struct {
	ReservationID string `json:"reservation_id"`
}

// CreatePolicyRequest 创建一个优惠券策略。
type CreatePolicyRequest struct {
	Name              string    `json:"name"`
	Code              string    `json:"code,omitempty"`
	DiscountType      string    `json:"discount_type"`
	DiscountValue     int64     `json:"discount_value"`
	MinOrderAmount    int64     `json:"min_order_amount"`
	MaxDiscountAmount int64     `json:"max_discount_amount"`
	Applicability     string    `json:"applicability,omitempty"`
	DistributionMode  string    `json:"distribution_mode"`
	ValidFrom         time.Time `json:"valid_from"`
	ValidUntil        time.Time `json:"valid_until"`
	MaxIssueCount     *int      `json:"max_issue_count,omitempty"`
	PerUserLimit      int       `json:"per_user_limit,omitempty"`
}

// UpdatePolicyQuantityRequest 管理端调整库存上限。nil 表示改为不限量。
type UpdatePolicyQuantityRequest struct {
	PolicyID      int64 `json:"policy_id"`
	MaxIssueCount *int  `json:"max_issue_count"`
}
