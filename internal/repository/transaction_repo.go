package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/memorial_billing_server/internal/model"
	"github.com/qs3c/memorial_billing_server/internal/model/dto"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create 创建交易
func (r *TransactionRepository) Create(ctx context.Context, tx *model.Transaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

// GetByID 根据 ID 获取交易
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*model.Transaction, error) {
	var tx model.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// List 按条件分页查询，最新的在前
func (r *TransactionRepository) List(ctx context.Context, filter dto.TransactionFilter) ([]*model.Transaction, int64, error) {
	var items []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{})
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
	err := query.Order("created_at DESC").Offset(offset).Limit(filter.PageSize).Find(&items).Error
	if err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

// UpdateStatus 单行更新状态，reviewedAt 非空时一并写入
func (r *TransactionRepository) UpdateStatus(ctx context.Context, id, status string, reviewedAt *time.Time) error {
	updates := map[string]interface{}{
		"status": status,
	}
	if reviewedAt != nil {
		updates["reviewed_at"] = *reviewedAt
	}

	return r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ListApprovedSince 审核时间不早于 since 的已通过交易
func (r *TransactionRepository) ListApprovedSince(ctx context.Context, since time.Time) ([]*model.Transaction, error) {
	var items []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND reviewed_at IS NOT NULL AND reviewed_at >= ?", model.TransactionApproved, since).
		Order("reviewed_at ASC").
		Find(&items).Error
	return items, err
}
