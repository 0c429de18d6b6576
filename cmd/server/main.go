package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/qs3c/memorial_billing_server/config"
	"github.com/qs3c/memorial_billing_server/internal/api"
	"github.com/qs3c/memorial_billing_server/internal/api/handler"
	"github.com/qs3c/memorial_billing_server/internal/database"
	"github.com/qs3c/memorial_billing_server/internal/pkg/logger"
	"github.com/qs3c/memorial_billing_server/internal/pkg/metrics"
	"github.com/qs3c/memorial_billing_server/internal/pkg/oss"
	"github.com/qs3c/memorial_billing_server/internal/pkg/pubsub"
	"github.com/qs3c/memorial_billing_server/internal/pkg/queue"
	"github.com/qs3c/memorial_billing_server/internal/pkg/ratelimit"
	"github.com/qs3c/memorial_billing_server/internal/pkg/vision"
	"github.com/qs3c/memorial_billing_server/internal/pkg/ws"
	"github.com/qs3c/memorial_billing_server/internal/repository"
	"github.com/qs3c/memorial_billing_server/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
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
	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}
	log.WithField("driver", cfg.Database.Driver).Info("database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.WithError(err).Fatal("failed to connect redis")
	}
	defer rdb.Close()
	log.Info("redis connected")

	// 指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 识别服务
	visionClient, err := vision.NewClient(ctx, &cfg.Extraction)
	if err != nil {
		log.WithError(err).Fatal("failed to create vision client")
	}
	if closer, ok := visionClient.(io.Closer); ok {
		defer closer.Close()
	}

	limiter := newLimiter(cfg, rdb)
	log.WithFields(logrus.Fields{
		"backend":    cfg.Extraction.RateLimit.Backend,
		"per_minute": cfg.Extraction.RateLimit.PerMinute,
		"per_day":    cfg.Extraction.RateLimit.PerDay,
	}).Info("extraction rate limiter ready")

	// 初始化 OSS（可选）
	var (
		store  handler.ReceiptStore
		signer handler.ProofSigner
	)
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			log.WithError(err).Warn("failed to init OSS client, receipts will not be stored")
		} else {
			store, signer = ossClient, ossClient
			log.Info("OSS client initialized")
		}
	}

	// 初始化 WebSocket Hub 和 Pub/Sub
	hub := ws.NewHub(log)
	publisher := pubsub.NewPublisher(rdb)
	subscriber := pubsub.NewSubscriber(rdb)

	// 初始化 Repository
	txRepo := repository.NewTransactionRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)

	// 初始化 Service
	transactionService := service.NewTransactionService(txRepo)
	subscriptionService := service.NewSubscriptionService(subRepo, m)
	approvalService := service.NewApprovalService(transactionService, subscriptionService, cfg, publisher, m, log)
	retryQueue := queue.NewQueue(rdb, cfg.Worker.ActivationQueue)
	approvalService.SetRetrier(retryQueue)
	registry.MustRegister(metrics.NewQueueDepthGauge(cfg.Worker.ActivationQueue, retryQueue.Length))
	extractionService, err := service.NewExtractionService(visionClient, limiter, &cfg.Extraction, m, log)
	if err != nil {
		log.WithError(err).Fatal("failed to create extraction service")
	}

	// 初始化 Handler
	extractionHandler := handler.NewExtractionHandler(extractionService, store, log)
	transactionHandler := handler.NewTransactionHandler(transactionService, signer, oss.ProofURLExpiry)
	subscriptionHandler := handler.NewSubscriptionHandler(subscriptionService)
	approvalHandler := handler.NewApprovalHandler(approvalService)
	websocketHandler := handler.NewWebSocketHandler(hub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins, log)
	healthHandler := handler.NewHealthHandler(map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	})

	router := api.NewRouter(
		extractionHandler,
		transactionHandler,
		subscriptionHandler,
		approvalHandler,
		websocketHandler,
		healthHandler,
		registry,
		m,
		log,
		cfg,
	)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 审核结果经 Redis 转发给在线用户，多实例部署时每个实例各自订阅
	g.Go(func() error {
		err := subscriber.Subscribe(gctx, hub.ForwardReview)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
	log.Info("server stopped")
}

// newLimiter 多实例部署需使用 redis 后端共享额度
func newLimiter(cfg *config.Config, rdb *redis.Client) ratelimit.Limiter {
	rl := cfg.Extraction.RateLimit
	limiterCfg := ratelimit.Config{
		PerMinute: rl.PerMinute,
		PerDay:    rl.PerDay,
		Location:  rl.Location(),
	}

	if strings.EqualFold(rl.Backend, "redis") {
		return ratelimit.NewRedisLimiter(rdb, limiterCfg, rl.KeyPrefix)
	}
	return ratelimit.NewMemoryLimiter(limiterCfg)
}
