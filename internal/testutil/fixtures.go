package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/memorial_billing_server/internal/model"
)

// TestTransaction 创建测试交易（默认 pending）
func TestTransaction(t *testing.T, db *gorm.DB, userID string, opts ...func(*model.Transaction)) *model.Transaction {
	t.Helper()

	tx := &model.Transaction{
		UserID:        userID,
		Amount:        299,
		Currency:      model.DefaultCurrency,
		PaymentMethod: "GCash",
		ReferenceNo:   fmt.Sprintf("REF%d", time.Now().UnixNano()%100000000),
		Status:        model.TransactionPending,
	}

	for _, opt := range opts {
		opt(tx)
	}

	if err := db.Create(tx).Error; err != nil {
		t.Fatalf("Failed to create test transaction: %v", err)
	}

	return tx
}

// WithTxStatus 设置交易状态
func WithTxStatus(status string) func(*model.Transaction) {
	return func(tx *model.Transaction) {
		tx.Status = status
	}
}

// WithReviewedAt 设置审核时间
func WithReviewedAt(at time.Time) func(*model.Transaction) {
	return func(tx *model.Transaction) {
		tx.ReviewedAt = &at
	}
}

// WithAmount 设置金额
func WithAmount(amount float64) func(*model.Transaction) {
	return func(tx *model.Transaction) {
		tx.Amount = amount
	}
}

// WithCreatedAt 设置创建时间
func WithCreatedAt(at time.Time) func(*model.Transaction) {
	return func(tx *model.Transaction) {
		tx.CreatedAt = at
	}
}

// TestSubscription 创建测试订阅（默认 active，30 天）
func TestSubscription(t *testing.T, db *gorm.DB, userID string, opts ...func(*model.Subscription)) *model.Subscription {
	t.Helper()

	start := time.Now().Add(-time.Hour)
	end := start.Add(30 * 24 * time.Hour)
	sub := &model.Subscription{
		UserID:    userID,
		Plan:      model.PlanEternalEcho,
		Status:    model.SubscriptionActive,
		StartDate: &start,
		EndDate:   &end,
	}

	for _, opt := range opts {
		opt(sub)
	}

	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("Failed to create test subscription: %v", err)
	}

	return sub
}

// WithSubStatus 设置订阅状态
func WithSubStatus(status string) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.Status = status
	}
}

// WithPlan 设置套餐
func WithPlan(plan string) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.Plan = plan
	}
}

// WithPeriod 设置起止时间
func WithPeriod(start, end time.Time) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.StartDate = &start
		s.EndDate = &end
	}
}

// WithoutDates 不设置起止时间
func WithoutDates() func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.StartDate = nil
		s.EndDate = nil
	}
}
