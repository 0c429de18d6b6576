package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/memorial_billing_server/config"
	"github.com/qs3c/memorial_billing_server/internal/service"
)

const jobTimeout = 5 * time.Minute

type Service struct {
	approvalService     *service.ApprovalService
	subscriptionService *service.SubscriptionService
	cfg                 config.WorkerConfig
	logger              *logrus.Logger
	cron                *cron.Cron
}

func NewService(
	approvalService *service.ApprovalService,
	subscriptionService *service.SubscriptionService,
	cfg config.WorkerConfig,
	logger *logrus.Logger,
) *Service {
	if logger == nil {
		logger = logrus.New()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Service{
		approvalService:     approvalService,
		subscriptionService: subscriptionService,
		cfg:                 cfg,
		logger:              logger,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
	}
}

// Start 注册并启动定时任务（补开订阅 + 过期清扫）
func (s *Service) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.ReconcileSchedule, s.runReconcile); err != nil {
		return fmt.Errorf("failed to schedule reconcile: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.ExpireSchedule, s.runExpire); err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}

	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"reconcile_schedule": s.cfg.ReconcileSchedule,
		"expire_schedule":    s.cfg.ExpireSchedule,
	}).Info("cron service started")
	return nil
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("cron service stopped")
}

func (s *Service) runReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := s.approvalService.Reconcile(ctx); err != nil {
		s.logger.WithError(err).Error("scheduled reconcile failed")
	}
}

func (s *Service) runExpire() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.subscriptionService.ExpireOverdue(ctx)
	if err != nil {
		s.logger.WithError(err).Error("scheduled expiry sweep failed")
		return
	}
	if n > 0 {
		s.logger.WithField("expired", n).Info("subscriptions expired")
	}
}

// RunNow 立即执行一轮全部任务（-run-once 或手动触发）
func (s *Service) RunNow(ctx context.Context) error {
	report, err := s.approvalService.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	n, err := s.subscriptionService.ExpireOverdue(ctx)
	if err != nil {
		return fmt.Errorf("expire subscriptions: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"checked":   report.Checked,
		"activated": len(report.Activated),
		"failed":    len(report.Failed),
		"expired":   n,
	}).Info("manual run completed")
	return nil
}
