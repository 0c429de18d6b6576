package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/memorial_billing_server/config"
	"github.com/qs3c/memorial_billing_server/internal/model"
	"github.com/qs3c/memorial_billing_server/internal/model/dto"
	"github.com/qs3c/memorial_billing_server/internal/pkg/metrics"
	"github.com/qs3c/memorial_billing_server/internal/pkg/pubsub"
	"github.com/qs3c/memorial_billing_server/internal/pkg/queue"
)

// 订阅开通来源
const (
	activationApprove   = "approve"
	activationRetry     = "retry"
	activationReconcile = "reconcile"
	activationQueue     = "queue"
)

// ReviewNotifier 审核结果通知，可为空
type ReviewNotifier interface {
	PublishReview(ctx context.Context, msg *pubsub.ReviewMessage) error
}

// ActivationRetrier 订阅开通失败后的重试队列
type ActivationRetrier interface {
	Push(ctx context.Context, msg *queue.ActivationMessage) error
}

type ApprovalService struct {
	ledger   *TransactionService
	subs     *SubscriptionService
	cfg      *config.Config
	notifier ReviewNotifier
	retrier  ActivationRetrier
	metrics  *metrics.Metrics
	logger   *logrus.Logger
	now      func() time.Time
}

func NewApprovalService(
	ledger *TransactionService,
	subs *SubscriptionService,
	cfg *config.Config,
	notifier ReviewNotifier,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *ApprovalService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ApprovalService{
		ledger:   ledger,
		subs:     subs,
		cfg:      cfg,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// SetRetrier 未设置时开通失败只能等待定时对账
func (s *ApprovalService) SetRetrier(r ActivationRetrier) {
	s.retrier = r
}

// Approve 审核通过并开通订阅。
// 交易状态更新失败时直接返回；订阅开通失败时交易仍为 approved，返回 PartialFailureError。
func (s *ApprovalService) Approve(ctx context.Context, txID string) (*dto.ApprovalResult, error) {
	if err := s.checkPending(ctx, txID); err != nil {
		return nil, err
	}

	tx, err := s.ledger.SetStatus(ctx, txID, model.TransactionApproved)
	if err != nil {
		return nil, err
	}
	s.metrics.Review(model.TransactionApproved)

	sub, err := s.activate(ctx, tx, activationApprove)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"transaction_id": tx.ID,
			"user_id":        tx.UserID,
		}).WithError(err).Error("subscription activation failed after approval")

		s.enqueueRetry(ctx, tx, err)
		s.notify(ctx, tx, nil, err)
		return nil, &PartialFailureError{Transaction: tx, Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"user_id":        tx.UserID,
		"end_date":       sub.EndDate,
	}).Info("transaction approved")

	s.notify(ctx, tx, sub, nil)
	return &dto.ApprovalResult{
		Transaction:  tx,
		Subscription: View(sub, s.now()),
	}, nil
}

// Reject 审核拒绝，不影响订阅
func (s *ApprovalService) Reject(ctx context.Context, txID string) (*model.Transaction, error) {
	if err := s.checkPending(ctx, txID); err != nil {
		return nil, err
	}

	tx, err := s.ledger.SetStatus(ctx, txID, model.TransactionRejected)
	if err != nil {
		return nil, err
	}
	s.metrics.Review(model.TransactionRejected)

	s.logger.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"user_id":        tx.UserID,
	}).Info("transaction rejected")

	s.notify(ctx, tx, nil, nil)
	return tx, nil
}

// ActivateSubscription 为已通过的交易重新开通订阅
func (s *ApprovalService) ActivateSubscription(ctx context.Context, txID string) (*dto.ApprovalResult, error) {
	tx, err := s.ledger.Get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Status != model.TransactionApproved {
		return nil, newValidationError("status", "transaction %s is %s, only approved transactions can be activated", tx.ID, tx.Status)
	}

	sub, err := s.activate(ctx, tx, activationRetry)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, tx, sub, nil)
	return &dto.ApprovalResult{
		Transaction:  tx,
		Subscription: View(sub, s.now()),
	}, nil
}

// RetryActivation 队列重试入口。审核之后已开通过时跳过，返回 false。
func (s *ApprovalService) RetryActivation(ctx context.Context, txID string) (bool, error) {
	tx, err := s.ledger.Get(ctx, txID)
	if err != nil {
		return false, err
	}
	if tx.Status != model.TransactionApproved {
		return false, newValidationError("status", "transaction %s is %s, only approved transactions can be activated", tx.ID, tx.Status)
	}

	sub, err := s.subs.Get(ctx, tx.UserID)
	if err != nil {
		return false, err
	}
	if !needsActivation(tx, sub) {
		return false, nil
	}

	sub, err = s.activate(ctx, tx, activationQueue)
	if err != nil {
		return false, err
	}

	s.notify(ctx, tx, sub, nil)
	return true, nil
}

// Reconcile 找出已通过但审核后没有开通记录的交易，补开订阅。
// 同一用户只处理最近一次通过的交易。
func (s *ApprovalService) Reconcile(ctx context.Context) (*dto.ReconcileReport, error) {
	since := s.now().Add(-s.cfg.Approval.ReconcileLookback)
	approved, err := s.ledger.ListApprovedSince(ctx, since)
	if err != nil {
		s.metrics.ReconcileRun(false)
		return nil, err
	}

	latest := make(map[string]*model.Transaction)
	var order []string
	for _, tx := range approved {
		if _, seen := latest[tx.UserID]; !seen {
			order = append(order, tx.UserID)
		}
		latest[tx.UserID] = tx
	}

	report := &dto.ReconcileReport{
		Activated: []string{},
		Failed:    []string{},
	}
	for _, userID := range order {
		tx := latest[userID]
		report.Checked++

		sub, err := s.subs.Get(ctx, userID)
		if err != nil {
			report.Failed = append(report.Failed, tx.ID)
			continue
		}
		if !needsActivation(tx, sub) {
			continue
		}

		if _, err := s.activate(ctx, tx, activationReconcile); err != nil {
			s.logger.WithField("transaction_id", tx.ID).WithError(err).Warn("reconcile activation failed")
			report.Failed = append(report.Failed, tx.ID)
			continue
		}
		report.Activated = append(report.Activated, tx.ID)
	}

	s.metrics.ReconcileRun(len(report.Failed) == 0)
	s.logger.WithFields(logrus.Fields{
		"checked":   report.Checked,
		"activated": len(report.Activated),
		"failed":    len(report.Failed),
	}).Info("reconcile finished")

	return report, nil
}

// needsActivation 开通总以当前时间为 start_date，start_date 早于审核时间说明审核后的开通没有落库。
// 续费时旧订阅可能仍在有效期内，不能只看 end_date。
func needsActivation(tx *model.Transaction, sub *model.Subscription) bool {
	if sub == nil || sub.StartDate == nil {
		return true
	}
	if tx.ReviewedAt == nil {
		return false
	}
	return sub.StartDate.Before(*tx.ReviewedAt)
}

// activate 以当前时间为起点开通 grant_days 个 24 小时，不受夏令时影响
func (s *ApprovalService) activate(ctx context.Context, tx *model.Transaction, source string) (*model.Subscription, error) {
	now := s.now()
	end := now.Add(time.Duration(s.grantDays()) * 24 * time.Hour)
	status := model.SubscriptionActive

	sub, err := s.subs.Upsert(ctx, tx.UserID, dto.SubscriptionFields{
		Status:    &status,
		StartDate: &now,
		EndDate:   &end,
	})
	s.metrics.Activation(source, err == nil)
	return sub, err
}

func (s *ApprovalService) grantDays() int {
	if s.cfg.Subscription.GrantDays > 0 {
		return s.cfg.Subscription.GrantDays
	}
	return config.DefaultGrantDays
}

func (s *ApprovalService) checkPending(ctx context.Context, txID string) error {
	if !s.cfg.Approval.RequirePending {
		return nil
	}
	tx, err := s.ledger.Get(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Status != model.TransactionPending {
		return ErrReviewNotPending
	}
	return nil
}

// enqueueRetry 入队失败只记录日志，由定时对账兜底
func (s *ApprovalService) enqueueRetry(ctx context.Context, tx *model.Transaction, cause error) {
	if s.retrier == nil {
		return
	}

	msg := &queue.ActivationMessage{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Attempt:       1,
		LastError:     cause.Error(),
	}
	if err := s.retrier.Push(ctx, msg); err != nil {
		s.logger.WithField("transaction_id", tx.ID).WithError(err).Warn("failed to enqueue activation retry")
	}
}

// notify 通知失败只记录日志
func (s *ApprovalService) notify(ctx context.Context, tx *model.Transaction, sub *model.Subscription, activationErr error) {
	if s.notifier == nil {
		return
	}

	msg := &pubsub.ReviewMessage{
		UserID:        tx.UserID,
		TransactionID: tx.ID,
		Status:        tx.Status,
	}
	if sub != nil {
		msg.SubscriptionStatus = sub.Status
		msg.EndDate = sub.EndDate
	}
	if activationErr != nil {
		msg.Error = "subscription activation is delayed, it will be retried automatically"
	}

	if err := s.notifier.PublishReview(ctx, msg); err != nil {
		s.metrics.NotificationFailed()
		s.logger.WithField("transaction_id", tx.ID).WithError(err).Warn("failed to publish review notification")
	}
}
