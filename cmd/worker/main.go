package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/qs3c/memorial_billing_server/config"
	"github.com/qs3c/memorial_billing_server/internal/database"
	"github.com/qs3c/memorial_billing_server/internal/pkg/cron"
	"github.com/qs3c/memorial_billing_server/internal/pkg/logger"
	"github.com/qs3c/memorial_billing_server/internal/pkg/pubsub"
	"github.com/qs3c/memorial_billing_server/internal/pkg/queue"
	"github.com/qs3c/memorial_billing_server/internal/repository"
	"github.com/qs3c/memorial_billing_server/internal/service"
	"github.com/qs3c/memorial_billing_server/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "config file path")
	runOnce := flag.Bool("run-once", false, "run reconcile and expiry sweep once, then exit")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log)

	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to connect database")
	}
	defer database.Close(db)
	log.Info("database connected")

	// Redis 不可用时只运行定时任务
	var (
		notifier   service.ReviewNotifier
		retryQueue *queue.Queue
	)
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.WithError(err).Warn("redis unavailable, notifications and retry queue disabled")
	} else {
		defer rdb.Close()
		notifier = pubsub.NewPublisher(rdb)
		retryQueue = queue.NewQueue(rdb, cfg.Worker.ActivationQueue)
	}

	transactionService := service.NewTransactionService(repository.NewTransactionRepository(db))
	subscriptionService := service.NewSubscriptionService(repository.NewSubscriptionRepository(db), nil)
	approvalService := service.NewApprovalService(transactionService, subscriptionService, cfg, notifier, nil, log)
	if retryQueue != nil {
		approvalService.SetRetrier(retryQueue)
	}

	cronService := cron.NewService(approvalService, subscriptionService, cfg.Worker, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *runOnce {
		if err := cronService.RunNow(ctx); err != nil {
			log.WithError(err).Error("run failed")
			os.Exit(1)
		}
		return
	}

	if err := cronService.Start(); err != nil {
		log.WithError(err).Fatal("failed to start cron")
	}

	var wg sync.WaitGroup
	if retryQueue != nil {
		processor := worker.NewProcessor(approvalService, retryQueue, cfg.Worker, log)
		for i := 0; i < cfg.Worker.Concurrency; i++ {
			wg.Add(1)
			go func(workerID int) {
				defer wg.Done()
				processor.Run(ctx, workerID)
			}(i)
		}
	}

	<-ctx.Done()
	log.Info("received shutdown signal")
	cronService.Stop()
	wg.Wait()
	log.Info("worker stopped")
}
