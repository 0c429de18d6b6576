package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 业务与 HTTP 指标。方法均允许 nil 接收者，测试和脚本可以不注册指标。
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ExtractionsTotal   *prometheus.CounterVec
	ExtractionDuration prometheus.Histogram
	ExtractionCache    *prometheus.CounterVec

	ReviewsTotal              *prometheus.CounterVec
	ActivationsTotal          *prometheus.CounterVec
	SubscriptionsExpired      prometheus.Counter
	ReconcileRunsTotal        *prometheus.CounterVec
	NotificationFailuresTotal prometheus.Counter
}

// NewMetrics 创建并注册所有指标
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		ExtractionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_receipt_extractions_total",
				Help: "Receipt extraction attempts by outcome",
			},
			[]string{"result"},
		),
		ExtractionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "billing_receipt_extraction_duration_seconds",
				Help:    "Upstream vision call duration in seconds",
				Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60},
			},
		),
		ExtractionCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_receipt_extraction_cache_total",
				Help: "Extraction cache lookups",
			},
			[]string{"result"},
		),
		ReviewsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_transaction_reviews_total",
				Help: "Transaction reviews by decision",
			},
			[]string{"decision"},
		),
		ActivationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_subscription_activations_total",
				Help: "Subscription activations by source and result",
			},
			[]string{"source", "result"},
		),
		SubscriptionsExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_subscriptions_expired_total",
				Help: "Subscriptions marked expired by the sweep",
			},
		),
		ReconcileRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_reconcile_runs_total",
				Help: "Reconciliation runs by result",
			},
			[]string{"result"},
		),
		NotificationFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_review_notification_failures_total",
				Help: "Review notifications that could not be published",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ExtractionsTotal,
		m.ExtractionDuration,
		m.ExtractionCache,
		m.ReviewsTotal,
		m.ActivationsTotal,
		m.SubscriptionsExpired,
		m.ReconcileRunsTotal,
		m.NotificationFailuresTotal,
	)

	return m
}

// NewQueueDepthGauge 抓取时读取开通重试队列长度，读取失败时报 -1
func NewQueueDepthGauge(queueName string, depth func(ctx context.Context) (int64, error)) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "billing_activation_queue_depth",
			Help:        "Pending subscription activation retries",
			ConstLabels: prometheus.Labels{"queue": queueName},
		},
		func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			n, err := depth(ctx)
			if err != nil {
				return -1
			}
			return float64(n)
		},
	)
}

// ObserveHTTP 记录一次 HTTP 请求
func (m *Metrics) ObserveHTTP(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// ExtractionResult 识别结果计数，result 为成功或失败分类
func (m *Metrics) ExtractionResult(result string) {
	if m == nil {
		return
	}
	m.ExtractionsTotal.WithLabelValues(result).Inc()
}

// ObserveExtraction 上游调用耗时
func (m *Metrics) ObserveExtraction(seconds float64) {
	if m == nil {
		return
	}
	m.ExtractionDuration.Observe(seconds)
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.ExtractionCache.WithLabelValues("hit").Inc()
		return
	}
	m.ExtractionCache.WithLabelValues("miss").Inc()
}

func (m *Metrics) Review(decision string) {
	if m == nil {
		return
	}
	m.ReviewsTotal.WithLabelValues(decision).Inc()
}

// Activation source: approve, retry, reconcile
func (m *Metrics) Activation(source string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.ActivationsTotal.WithLabelValues(source, result).Inc()
}

func (m *Metrics) Expired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SubscriptionsExpired.Add(float64(n))
}

func (m *Metrics) ReconcileRun(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.ReconcileRunsTotal.WithLabelValues("success").Inc()
		return
	}
	m.ReconcileRunsTotal.WithLabelValues("failure").Inc()
}

func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.NotificationFailuresTotal.Inc()
}
