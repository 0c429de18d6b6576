package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/memorial_billing_server/config"
	"github.com/qs3c/memorial_billing_server/internal/api/handler"
	"github.com/qs3c/memorial_billing_server/internal/api/middleware"
	"github.com/qs3c/memorial_billing_server/internal/pkg/metrics"
)

// multipart 表单的额外开销
const multipartOverhead = 1 << 20

type Router struct {
	extractionHandler   *handler.ExtractionHandler
	transactionHandler  *handler.TransactionHandler
	subscriptionHandler *handler.SubscriptionHandler
	approvalHandler     *handler.ApprovalHandler
	websocketHandler    *handler.WebSocketHandler
	healthHandler       *handler.HealthHandler
	gatherer            prometheus.Gatherer
	metrics             *metrics.Metrics
	logger              *logrus.Logger
	cfg                 *config.Config
}

func NewRouter(
	extractionHandler *handler.ExtractionHandler,
	transactionHandler *handler.TransactionHandler,
	subscriptionHandler *handler.SubscriptionHandler,
	approvalHandler *handler.ApprovalHandler,
	websocketHandler *handler.WebSocketHandler,
	healthHandler *handler.HealthHandler,
	gatherer prometheus.Gatherer,
	m *metrics.Metrics,
	logger *logrus.Logger,
	cfg *config.Config,
) *Router {
	return &Router{
		extractionHandler:   extractionHandler,
		transactionHandler:  transactionHandler,
		subscriptionHandler: subscriptionHandler,
		approvalHandler:     approvalHandler,
		websocketHandler:    websocketHandler,
		healthHandler:       healthHandler,
		gatherer:            gatherer,
		metrics:             m,
		logger:              logger,
		cfg:                 cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(r.logger, r.metrics))
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/healthz", r.healthHandler.Check)
	if r.gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	}

	api := engine.Group("/api/v1")
	{
		// WebSocket，令牌在 query 中校验
		api.GET("/ws", r.websocketHandler.Handle)

		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			authenticated.POST("/receipts/extract",
				middleware.BodyLimit(r.cfg.Extraction.MaxImageBytes+multipartOverhead),
				r.extractionHandler.Extract,
			)

			transactions := authenticated.Group("/transactions")
			{
				transactions.POST("", r.transactionHandler.Create)
				transactions.GET("", r.transactionHandler.List)
				transactions.GET("/:id", r.transactionHandler.Get)
			}

			subscription := authenticated.Group("/subscription")
			{
				subscription.GET("", r.subscriptionHandler.Get)
				subscription.POST("/checkout", r.subscriptionHandler.Checkout)
			}
		}

		admin := api.Group("/admin")
		admin.Use(middleware.Auth(r.cfg.JWT.Secret), middleware.RequireAdmin())
		{
			admin.GET("/transactions", r.transactionHandler.AdminList)
			admin.GET("/transactions/:id/proof", r.transactionHandler.Proof)
			admin.PUT("/transactions/:id/status", r.transactionHandler.SetStatus)
			admin.POST("/transactions/:id/approve", r.approvalHandler.Approve)
			admin.POST("/transactions/:id/reject", r.approvalHandler.Reject)
			admin.POST("/transactions/:id/activate", r.approvalHandler.Activate)
			admin.POST("/reconcile", r.approvalHandler.Reconcile)

			admin.GET("/subscriptions", r.subscriptionHandler.AdminList)
			admin.PUT("/subscriptions/:user_id", r.subscriptionHandler.AdminUpsert)

			admin.GET("/ratelimit", r.extractionHandler.RateLimit)
		}
	}

	return engine
}
