package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/memorial_billing_server/config"
	"github.com/qs3c/memorial_billing_server/internal/pkg/queue"
	"github.com/qs3c/memorial_billing_server/internal/service"
)

const (
	popTimeout        = 5 * time.Second
	defaultRetryDelay = 2 * time.Second
)

// Activator 重新开通订阅
type Activator interface {
	RetryActivation(ctx context.Context, txID string) (bool, error)
}

// Processor 消费订阅开通重试队列
type Processor struct {
	activator   Activator
	queue       *queue.Queue
	maxAttempts int
	retryDelay  time.Duration
	logger      *logrus.Logger
}

func NewProcessor(activator Activator, q *queue.Queue, cfg config.WorkerConfig, logger *logrus.Logger) *Processor {
	if logger == nil {
		logger = logrus.New()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Processor{
		activator:   activator,
		queue:       q,
		maxAttempts: maxAttempts,
		retryDelay:  defaultRetryDelay,
		logger:      logger,
	}
}

// Process 处理一条重试任务。失败且未达上限时延迟后重新入队。
func (p *Processor) Process(ctx context.Context, msg *queue.ActivationMessage) error {
	entry := p.logger.WithFields(logrus.Fields{
		"transaction_id": msg.TransactionID,
		"user_id":        msg.UserID,
		"attempt":        msg.Attempt,
	})

	activated, err := p.activator.RetryActivation(ctx, msg.TransactionID)
	if err == nil {
		if activated {
			entry.Info("subscription activated from retry queue")
		} else {
			entry.Debug("subscription already covers transaction, skipped")
		}
		return nil
	}

	if isPermanent(err) {
		entry.WithError(err).Warn("dropping activation retry")
		return err
	}
	if msg.Attempt >= p.maxAttempts {
		entry.WithError(err).Error("activation retry attempts exhausted, waiting for reconcile")
		return err
	}

	if err := p.wait(ctx, msg.Attempt); err != nil {
		return err
	}

	next := &queue.ActivationMessage{
		TransactionID: msg.TransactionID,
		UserID:        msg.UserID,
		Attempt:       msg.Attempt + 1,
		EnqueuedAt:    msg.EnqueuedAt,
		LastError:     err.Error(),
	}
	if pushErr := p.queue.Push(ctx, next); pushErr != nil {
		return fmt.Errorf("failed to requeue activation: %w", pushErr)
	}

	entry.WithError(err).Warn("activation retry failed, requeued")
	return err
}

// Run 阻塞消费队列直到 ctx 结束
func (p *Processor) Run(ctx context.Context, workerID int) {
	entry := p.logger.WithField("worker_id", workerID)
	entry.Info("activation worker started")

	for {
		select {
		case <-ctx.Done():
			entry.Info("activation worker shutting down")
			return
		default:
		}

		msg, err := p.queue.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			entry.WithError(err).Warn("failed to pop activation job")
			continue
		}
		if msg == nil {
			continue // 超时
		}

		_ = p.Process(ctx, msg)
	}
}

// wait 按尝试次数线性退避
func (p *Processor) wait(ctx context.Context, attempt int) error {
	delay := p.retryDelay * time.Duration(attempt)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isPermanent 交易不存在或状态不允许开通，重试没有意义
func isPermanent(err error) bool {
	var nf *service.NotFoundError
	var ve *service.ValidationError
	return errors.As(err, &nf) || errors.As(err, &ve)
}
