// internal/service/coupon/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"promo/internal/service/coupon/domain"
)

// GormCouponRepository 是 domain.CouponRepository 的 GORM 实现。
type GormCouponRepository struct {
	db *gorm.DB
}

// NewGormCouponRepository 创建一个新的优惠券仓储实例。
func NewGormCouponRepository(db *gorm.DB) *GormCouponRepository {
	return &GormCouponRepository{db: db}
}

func (r *GormCouponRepository) Create(ctx context.Context, coupon *domain.CouponIssue) error {
	model := toCouponModel(coupon)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	// 回填数据库生成的主键
	coupon.ID = model.ID
	return nil
}

func (r *GormCouponRepository) Save(ctx context.Context, coupon *domain.CouponIssue) error {
	model := toCouponModel(coupon)
	// 全字段保存：状态机的每次流转都在写意向读保护下进行，不存在丢失更新
	return r.db.WithContext(ctx).Model(&CouponIssueModel{}).
		Where("id = ?", coupon.ID).
		Select("status", "reservation_id", "order_id", "reserved_at", "used_at", "expired_at", "actual_discount_amount").
		Updates(map[string]interface{}{
			"status":                 model.Status,
			"reservation_id":         model.ReservationID,
			"order_id":               model.OrderID,
			"reserved_at":            model.ReservedAt,
			"used_at":                model.UsedAt,
			"expired_at":             model.ExpiredAt,
			"actual_discount_amount": model.ActualDiscountAmount,
		}).Error
}

func (r *GormCouponRepository) FindByID(ctx context.Context, id int64) (*domain.CouponIssue, error) {
	var model CouponIssueModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewError(domain.KindCouponNotFound, "coupon %d not found", id)
		}
		return nil, err
	}
	return toDomainCoupon(&model), nil
}

// FindByIDForUpdate 以 SELECT ... FOR UPDATE 读取一张券。
// 必须在 Transact 打开的事务内调用，行锁在事务提交时释放。
func (r *GormCouponRepository) FindByIDForUpdate(ctx context.Context, id int64) (*domain.CouponIssue, error) {
	var model CouponIssueModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewError(domain.KindCouponNotFound, "coupon %d not found", id)
		}
		return nil, err
	}
	return toDomainCoupon(&model), nil
}

func (r *GormCouponRepository) FindByReservationIDForUpdate(ctx context.Context, reservationID string) (*domain.CouponIssue, error) {
	var model CouponIssueModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("reservation_id = ?", reservationID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewError(domain.KindReservationNotFound, "reservation %s not found", reservationID)
		}
		return nil, err
	}
	return toDomainCoupon(&model), nil
}

func (r *GormCouponRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.CouponIssue, error) {
	var model CouponIssueModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewError(domain.KindCouponNotFound, "no coupon used for order %s", orderID)
		}
		return nil, err
	}
	return toDomainCoupon(&model), nil
}

func (r *GormCouponRepository) FindByUserID(ctx context.Context, userID string, page, pageSize int) ([]*domain.CouponIssue, error) {
	var models []*CouponIssueModel
	// page 从 1 开始
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("issued_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	coupons := make([]*domain.CouponIssue, len(models))
	for i, m := range models {
		coupons[i] = toDomainCoupon(m)
	}
	return coupons, nil
}

func (r *GormCouponRepository) CountByPolicyAndUser(ctx context.Context, policyID int64, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&CouponIssueModel{}).
		Where("policy_id = ? AND user_id = ?", policyID, userID).
		Count(&count).Error
	return count, err
}

func (r *GormCouponRepository) FindReservedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.CouponIssue, error) {
	var models []*CouponIssueModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND reserved_at < ?", string(domain.StatusReserved), cutoff).
		Order("reserved_at").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	coupons := make([]*domain.CouponIssue, len(models))
	for i, m := range models {
		coupons[i] = toDomainCoupon(m)
	}
	return coupons, nil
}

// FindExpiredPage 反复取第一页即可遍历全部待过期数据：
// 每轮批量更新后，已处理的行不再满足查询条件。
func (r *GormCouponRepository) FindExpiredPage(ctx context.Context, now time.Time, pageSize int) ([]*domain.CouponIssue, error) {
	var models []*CouponIssueModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?",
			[]string{string(domain.StatusIssued), string(domain.StatusReserved)}, now).
		Order("id").
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	coupons := make([]*domain.CouponIssue, len(models))
	for i, m := range models {
		coupons[i] = toDomainCoupon(m)
	}
	return coupons, nil
}

// BatchUpdateStatus 条件化批量流转：
// 在扫描与更新之间被并发核销/作废的行会被 WHERE 条件排除。
func (r *GormCouponRepository) BatchUpdateStatus(ctx context.Context, ids []int64, status domain.CouponStatus, ts time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	updates := map[string]interface{}{
		"status":         string(status),
		"reservation_id": nil,
		"reserved_at":    nil,
	}
	if status == domain.StatusExpired {
		updates["expired_at"] = ts
	}
	res := r.db.WithContext(ctx).Model(&CouponIssueModel{}).
		Where("id IN ? AND status IN ?",
			ids, []string{string(domain.StatusIssued), string(domain.StatusReserved)}).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// Transact 在一个数据库事务中执行 fn，fn 收到的仓储绑定到该事务。
func (r *GormCouponRepository) Transact(ctx context.Context, fn func(repo domain.CouponRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormCouponRepository{db: tx})
	})
}

// GormPolicyRepository 是 domain.PolicyRepository 的 GORM 实现。
type GormPolicyRepository struct {
	db *gorm.DB
}

func NewGormPolicyRepository(db *gorm.DB) *GormPolicyRepository {
	return &GormPolicyRepository{db: db}
}

func (r *GormPolicyRepository) Create(ctx context.Context, policy *domain.CouponPolicy) error {
	model := toPolicyModel(policy)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	policy.ID = model.ID
	return nil
}

func (r *GormPolicyRepository) FindByID(ctx context.Context, id int64) (*domain.CouponPolicy, error) {
	var model CouponPolicyModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewError(domain.KindPolicyNotFound, "policy %d not found", id)
		}
		return nil, err
	}
	return toDomainPolicy(&model), nil
}

func (r *GormPolicyRepository) FindByCode(ctx context.Context, code string) (*domain.CouponPolicy, error) {
	var model CouponPolicyModel
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewError(domain.KindPolicyNotFound, "policy with code %q not found", code)
		}
		return nil, err
	}
	return toDomainPolicy(&model), nil
}

// AtomicDecrementStock 用一条条件更新消耗一个发放名额。
// 数据库保证整条 UPDATE 原子执行，这是跨实例防超发的权威路径。
func (r *GormPolicyRepository) AtomicDecrementStock(ctx context.Context, policyID int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&CouponPolicyModel{}).
		Where("id = ? AND active = ? AND (max_issue_count IS NULL OR current_issue_count < max_issue_count)",
			policyID, true).
		UpdateColumn("current_issue_count", gorm.Expr("current_issue_count + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateMaxIssueCount 调整库存上限，条件更新保证新上限不低于已发放数。
func (r *GormPolicyRepository) UpdateMaxIssueCount(ctx context.Context, policyID int64, newMax *int) error {
	tx := r.db.WithContext(ctx).Model(&CouponPolicyModel{}).Where("id = ?", policyID)
	if newMax != nil {
		tx = tx.Where("current_issue_count <= ?", *newMax)
	}
	res := tx.Update("max_issue_count", newMax)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 要么策略不存在，要么新上限低于已发放数；查一次区分开
		if _, err := r.FindByID(ctx, policyID); err != nil {
			return err
		}
		return domain.NewError(domain.KindStockExhausted,
			"cannot shrink max issue count of policy %d below issued count", policyID)
	}
	return nil
}
