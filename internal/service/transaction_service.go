package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qs3c/memorial_billing_server/internal/model"
	"github.com/qs3c/memorial_billing_server/internal/model/dto"
	"github.com/qs3c/memorial_billing_server/internal/pkg/receipt"
	"github.com/qs3c/memorial_billing_server/internal/repository"
)

const manualReferencePrefix = "MANUAL-"

type TransactionService struct {
	txRepo *repository.TransactionRepository
	now    func() time.Time
}

func NewTransactionService(txRepo *repository.TransactionRepository) *TransactionService {
	return &TransactionService{
		txRepo: txRepo,
		now:    time.Now,
	}
}

// Create 记录一笔待审核的付款，请求中的 status 一律忽略
func (s *TransactionService) Create(ctx context.Context, userID string, req *dto.CreateTransactionRequest) (*model.Transaction, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newValidationError("user_id", "user_id is required")
	}
	if req.Amount < 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		return nil, newValidationError("amount", "amount must be a non-negative number")
	}

	reference := strings.TrimSpace(req.ReferenceNo)
	if reference == "" {
		reference = generateManualReference()
	}

	tx := &model.Transaction{
		UserID:        userID,
		Amount:        math.Round(req.Amount*100) / 100,
		Currency:      receipt.NormalizeCurrency(req.Currency),
		PaymentMethod: receipt.NormalizePaymentMethod(req.PaymentMethod),
		ReferenceNo:   reference,
		ProofURL:      strings.TrimSpace(req.ProofURL),
		Status:        model.TransactionPending,
	}

	if err := s.txRepo.Create(ctx, tx); err != nil {
		return nil, persistenceError("create transaction", err)
	}
	return tx, nil
}

// List 分页查询，最新的在前
func (s *TransactionService) List(ctx context.Context, filter dto.TransactionFilter) ([]*model.Transaction, int64, error) {
	filter.Normalize()
	if filter.Status != "" && !model.IsValidTransactionStatus(filter.Status) {
		return nil, 0, newValidationError("status", "invalid transaction status: %s", filter.Status)
	}

	items, total, err := s.txRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, persistenceError("list transactions", err)
	}
	return items, total, nil
}

// Get 获取单笔交易
func (s *TransactionService) Get(ctx context.Context, id string) (*model.Transaction, error) {
	tx, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "transaction", ID: id}
		}
		return nil, persistenceError("get transaction", err)
	}
	return tx, nil
}

// SetStatus 直接设置状态，不校验原状态。
// 审核结果（approved/rejected）会同时写入 reviewed_at。
func (s *TransactionService) SetStatus(ctx context.Context, id, status string) (*model.Transaction, error) {
	if !model.IsValidTransactionStatus(status) {
		return nil, newValidationError("status", "invalid transaction status: %s", status)
	}

	var reviewedAt *time.Time
	if model.IsReviewStatus(status) {
		now := s.now()
		reviewedAt = &now
	}

	if err := s.txRepo.UpdateStatus(ctx, id, status, reviewedAt); err != nil {
		return nil, persistenceError("update transaction status", err)
	}

	return s.Get(ctx, id)
}

// ListApprovedSince 对账使用
func (s *TransactionService) ListApprovedSince(ctx context.Context, since time.Time) ([]*model.Transaction, error) {
	items, err := s.txRepo.ListApprovedSince(ctx, since)
	if err != nil {
		return nil, persistenceError("list approved transactions", err)
	}
	return items, nil
}

// generateManualReference MANUAL-XXXXXXXX
func generateManualReference() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return manualReferencePrefix + strings.ToUpper(id[:8])
}
