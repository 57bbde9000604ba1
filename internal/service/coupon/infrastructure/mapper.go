// internal/service/coupon/infrastructure/mapper.go
package infrastructure

import (
	"promo/internal/service/coupon/domain"
)

// --- 数据库模型与领域模型的双向转换 ---

func toDomainPolicy(m *CouponPolicyModel) *domain.CouponPolicy {
	code := ""
	if m.Code != nil {
		code = *m.Code
	}
	return &domain.CouponPolicy{
		ID:                m.ID,
		Name:              m.Name,
		Code:              code,
		DiscountType:      domain.DiscountType(m.DiscountType),
		DiscountValue:     m.DiscountValue,
		MinOrderAmount:    m.MinOrderAmount,
		MaxDiscountAmount: m.MaxDiscountAmount,
		Applicability:     m.Applicability,
		DistributionMode:  domain.DistributionMode(m.DistributionMode),
		ValidFrom:         m.ValidFrom,
		ValidUntil:        m.ValidUntil,
		MaxIssueCount:     m.MaxIssueCount,
		CurrentIssueCount: m.CurrentIssueCount,
		PerUserLimit:      m.PerUserLimit,
		Active:            m.Active,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func toPolicyModel(p *domain.CouponPolicy) *CouponPolicyModel {
	// 直接发放/活动发放的策略没有兑换码，写 NULL 以免撞上兑换码的唯一索引
	var code *string
	if p.Code != "" {
		c := p.Code
		code = &c
	}
	return &CouponPolicyModel{
		ID:                p.ID,
		Name:              p.Name,
		Code:              code,
		DiscountType:      string(p.DiscountType),
		DiscountValue:     p.DiscountValue,
		MinOrderAmount:    p.MinOrderAmount,
		MaxDiscountAmount: p.MaxDiscountAmount,
		Applicability:     p.Applicability,
		DistributionMode:  string(p.DistributionMode),
		ValidFrom:         p.ValidFrom,
		ValidUntil:        p.ValidUntil,
		MaxIssueCount:     p.MaxIssueCount,
		CurrentIssueCount: p.CurrentIssueCount,
		PerUserLimit:      p.PerUserLimit,
		Active:            p.Active,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func toDomainCoupon(m *CouponIssueModel) *domain.CouponIssue {
	reservationID := ""
	if m.ReservationID != nil {
		reservationID = *m.ReservationID
	}
	return &domain.CouponIssue{
		ID:                   m.ID,
		PolicyID:             m.PolicyID,
		UserID:               m.UserID,
		Status:               domain.CouponStatus(m.Status),
		ReservationID:        reservationID,
		OrderID:              m.OrderID,
		IssuedAt:             m.IssuedAt,
		ReservedAt:           m.ReservedAt,
		UsedAt:               m.UsedAt,
		ExpiredAt:            m.ExpiredAt,
		ExpiresAt:            m.ExpiresAt,
		ActualDiscountAmount: m.ActualDiscountAmount,
		DiscountType:         domain.DiscountType(m.DiscountType),
		DiscountValue:        m.DiscountValue,
	}
}

func toCouponModel(c *domain.CouponIssue) *CouponIssueModel {
	// 空串写为 NULL，让唯一索引放过未被占用的券
	var reservationID *string
	if c.ReservationID != "" {
		r := c.ReservationID
		reservationID = &r
	}
	return &CouponIssueModel{
		ID:                   c.ID,
		PolicyID:             c.PolicyID,
		UserID:               c.UserID,
		Status:               string(c.Status),
		ReservationID:        reservationID,
		OrderID:              c.OrderID,
		IssuedAt:             c.IssuedAt,
		ReservedAt:           c.ReservedAt,
		UsedAt:               c.UsedAt,
		ExpiredAt:            c.ExpiredAt,
		ExpiresAt:            c.ExpiresAt,
		ActualDiscountAmount: c.ActualDiscountAmount,
		DiscountType:         string(c.DiscountType),
		DiscountValue:        c.DiscountValue,
	}
}
