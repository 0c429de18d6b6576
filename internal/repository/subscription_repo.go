package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/memorial_billing_server/internal/model"
	"github.com/qs3c/memorial_billing_server/internal/model/dto"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// GetByUserID 获取用户的订阅
func (r *SubscriptionRepository) GetByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Upsert 单条语句插入或更新。
// 不存在时按 sub 的全部字段插入，存在时只更新 columns 中列出的列。
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *model.Subscription, columns []string) error {
	columns = append(columns, "updated_at")

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).
		Create(sub).Error
}

// entitledExpr 行仍处于有效期内，列名带表名，避免与 excluded 冲突
const entitledExpr = "subscriptions.status = ? AND subscriptions.end_date IS NOT NULL AND subscriptions.end_date > ?"

// UpsertUnlessEntitled 插入或把已有记录改为 sub 的 plan/status，
// 已有记录在 now 时仍有效时保持不变。判断与写入在同一条语句中。
func (r *SubscriptionRepository) UpsertUnlessEntitled(ctx context.Context, sub *model.Subscription, now time.Time) error {
	db := r.db.WithContext(ctx)

	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}}
	if db.Dialector.Name() == "mysql" {
		// ON DUPLICATE KEY UPDATE 不支持 WHERE；按列赋值，status 放最后，前面的条件看到的仍是旧值
		keep := func(column string) clause.Assignment {
			return clause.Assignment{
				Column: clause.Column{Name: column},
				Value: gorm.Expr("IF("+entitledExpr+", subscriptions."+column+", VALUES("+column+"))",
					model.SubscriptionActive, now),
			}
		}
		onConflict.DoUpdates = clause.Set{keep("plan"), keep("updated_at"), keep("status")}
	} else {
		onConflict.DoUpdates = clause.AssignmentColumns([]string{"plan", "status", "updated_at"})
		onConflict.Where = clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "NOT (" + entitledExpr + ")", Vars: []interface{}{model.SubscriptionActive, now}},
		}}
	}

	return db.Clauses(onConflict).Create(sub).Error
}

// List 分页查询订阅
func (r *SubscriptionRepository) List(ctx context.Context, filter dto.SubscriptionFilter) ([]*model.Subscription, int64, error) {
	var items []*model.Subscription
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Subscription{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.PageSize
	err := query.Order("updated_at DESC").Offset(offset).Limit(filter.PageSize).Find(&items).Error
	if err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

// MarkExpired 将已过结束时间的 active 订阅标记为 expired，返回影响行数
func (r *SubscriptionRepository) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("status = ? AND end_date IS NOT NULL AND end_date < ?", model.SubscriptionActive, now).
		Update("status", model.SubscriptionExpired)
	return result.RowsAffected, result.Error
}
