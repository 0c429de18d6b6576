package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/memorial_billing_server/internal/model"
	"github.com/qs3c/memorial_billing_server/internal/model/dto"
	"github.com/qs3c/memorial_billing_server/internal/pkg/entitlement"
	"github.com/qs3c/memorial_billing_server/internal/pkg/metrics"
	"github.com/qs3c/memorial_billing_server/internal/repository"
)

type SubscriptionService struct {
	subRepo *repository.SubscriptionRepository
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewSubscriptionService(subRepo *repository.SubscriptionRepository, m *metrics.Metrics) *SubscriptionService {
	return &SubscriptionService{
		subRepo: subRepo,
		metrics: m,
		now:     time.Now,
	}
}

// Get 获取用户订阅，不存在时返回 nil, nil
func (s *SubscriptionService) Get(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := s.subRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, persistenceError("get subscription", err)
	}
	return sub, nil
}

// Upsert 只修改传入的字段；记录不存在时以 plan=free、status=active 为默认值创建。
// 插入与更新在同一条语句中完成，并发调用不会产生重复记录。
func (s *SubscriptionService) Upsert(ctx context.Context, userID string, fields dto.SubscriptionFields) (*model.Subscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newValidationError("user_id", "user_id is required")
	}
	if err := validateFields(fields); err != nil {
		return nil, err
	}

	sub := &model.Subscription{
		UserID: userID,
		Plan:   model.PlanFree,
		Status: model.SubscriptionActive,
	}
	var columns []string

	if fields.Plan != nil {
		sub.Plan = *fields.Plan
		columns = append(columns, "plan")
	}
	if fields.Status != nil {
		sub.Status = *fields.Status
		columns = append(columns, "status")
	}
	if fields.StartDate != nil {
		start := *fields.StartDate
		sub.StartDate = &start
		columns = append(columns, "start_date")
	}
	if fields.EndDate != nil {
		end := *fields.EndDate
		sub.EndDate = &end
		columns = append(columns, "end_date")
	}
	if fields.AutoRenew != nil {
		sub.AutoRenew = *fields.AutoRenew
		columns = append(columns, "auto_renew")
	}

	if err := s.subRepo.Upsert(ctx, sub, columns); err != nil {
		return nil, persistenceError("upsert subscription", err)
	}

	saved, err := s.subRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, persistenceError("reload subscription", err)
	}
	return saved, nil
}

func validateFields(fields dto.SubscriptionFields) error {
	if fields.Plan != nil && !model.IsValidPlan(*fields.Plan) {
		return newValidationError("plan", "invalid plan: %s", *fields.Plan)
	}
	if fields.Status != nil && !model.IsValidSubscriptionStatus(*fields.Status) {
		return newValidationError("status", "invalid subscription status: %s", *fields.Status)
	}
	if fields.StartDate != nil && fields.EndDate != nil && fields.EndDate.Before(*fields.StartDate) {
		return newValidationError("end_date", "end_date must not be before start_date")
	}
	return nil
}

// Checkout 用户选择付费套餐，生成待支付的订阅。
// 仍在有效期内的 active 订阅保持不变，判断在写入语句内完成，并发的审核开通不会被覆盖。
func (s *SubscriptionService) Checkout(ctx context.Context, userID, plan string) (*model.Subscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newValidationError("user_id", "user_id is required")
	}
	if !model.IsValidPlan(plan) || plan == model.PlanFree {
		return nil, newValidationError("plan", "invalid plan for checkout: %s", plan)
	}

	sub := &model.Subscription{
		UserID: userID,
		Plan:   plan,
		Status: model.SubscriptionPending,
	}
	if err := s.subRepo.UpsertUnlessEntitled(ctx, sub, s.now()); err != nil {
		return nil, persistenceError("checkout subscription", err)
	}

	saved, err := s.subRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, persistenceError("reload subscription", err)
	}
	return saved, nil
}

// List 分页查询订阅
func (s *SubscriptionService) List(ctx context.Context, filter dto.SubscriptionFilter) ([]*dto.SubscriptionView, int64, error) {
	filter.Normalize()
	if filter.Status != "" && !model.IsValidSubscriptionStatus(filter.Status) {
		return nil, 0, newValidationError("status", "invalid subscription status: %s", filter.Status)
	}

	items, total, err := s.subRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, persistenceError("list subscriptions", err)
	}

	now := s.now()
	views := make([]*dto.SubscriptionView, 0, len(items))
	for _, sub := range items {
		views = append(views, View(sub, now))
	}
	return views, total, nil
}

// GetView 当前用户的订阅及进度，没有订阅时返回 nil
func (s *SubscriptionService) GetView(ctx context.Context, userID string) (*dto.SubscriptionView, error) {
	sub, err := s.Get(ctx, userID)
	if err != nil || sub == nil {
		return nil, err
	}
	return View(sub, s.now()), nil
}

// ViewOf 以服务当前时间生成展示结构
func (s *SubscriptionService) ViewOf(sub *model.Subscription) *dto.SubscriptionView {
	return View(sub, s.now())
}

// ExpireOverdue 将结束时间已过的 active 订阅落库为 expired
func (s *SubscriptionService) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := s.subRepo.MarkExpired(ctx, s.now())
	if err != nil {
		return 0, persistenceError("expire subscriptions", err)
	}
	s.metrics.Expired(n)
	return n, nil
}

// View 订阅展示结构，expiry_date 与 end_date 始终一致
func View(sub *model.Subscription, now time.Time) *dto.SubscriptionView {
	if sub == nil {
		return nil
	}

	progress := entitlement.ComputeProgress(sub.StartDate, sub.EndDate, now)
	return &dto.SubscriptionView{
		ID:         sub.ID,
		UserID:     sub.UserID,
		Plan:       sub.Plan,
		Status:     sub.Status,
		StartDate:  sub.StartDate,
		EndDate:    sub.EndDate,
		ExpiryDate: sub.EndDate,
		AutoRenew:  sub.AutoRenew,
		DaysLeft:   progress.DaysLeft,
		TotalDays:  progress.TotalDays,
		Percentage: progress.Percentage,
		Warning:    entitlement.WarningLevel(progress.DaysLeft),
		Expired:    progress.IsExpired(),
		UpdatedAt:  sub.UpdatedAt,
	}
}
