// internal/service/coupon/infrastructure/models.go
package infrastructure

import "time"

// CouponPolicyModel 是 CouponPolicy 领域对象在数据库中的表示。
type CouponPolicyModel struct {
	ID   int64  `gorm:"primaryKey"`
	Name string `gorm:"size:128"`
	// NULL 表示非兑换码模式；唯一索引只约束非 NULL 的兑换码
	Code              *string `gorm:"size:64;uniqueIndex"`
	DiscountType      string  `gorm:"size:32"`
	DiscountValue     int64
	MinOrderAmount    int64
	MaxDiscountAmount int64
	Applicability     string `gorm:"type:text"`
	DistributionMode  string `gorm:"size:32"`
	ValidFrom         time.Time
	ValidUntil        time.Time
	// NULL 表示不限量
	MaxIssueCount     *int
	CurrentIssueCount int
	PerUserLimit      int
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (CouponPolicyModel) TableName() string {
	return "coupon_policies"
}

// CouponIssueModel 是 CouponIssue 领域对象在数据库中的表示。
// reservation_id 上的唯一索引保证一个预订单凭据最多关联一张券。
type CouponIssueModel struct {
	ID       int64  `gorm:"primaryKey"`
	PolicyID int64  `gorm:"index"`
	UserID   string `gorm:"size:64;index"`

	Status        string  `gorm:"size:32;index:idx_status_reserved_at;index:idx_status_expires_at"`
	ReservationID *string `gorm:"size:64;uniqueIndex"`
	OrderID       string  `gorm:"size:64"`

	IssuedAt   time.Time
	ReservedAt *time.Time `gorm:"index:idx_status_reserved_at"`
	UsedAt     *time.Time `gorm:"default:null"`
	ExpiredAt  *time.Time `gorm:"default:null"`
	ExpiresAt  time.Time  `gorm:"index:idx_status_expires_at"`

	ActualDiscountAmount int64

	DiscountType  string `gorm:"size:32"`
	DiscountValue int64
}

func (CouponIssueModel) TableName() string {
	return "coupon_issues"
}
