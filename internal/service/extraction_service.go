package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/memorial_billing_server/config"
	"github.com/qs3c/memorial_billing_server/internal/model/dto"
	"github.com/qs3c/memorial_billing_server/internal/pkg/metrics"
	"github.com/qs3c/memorial_billing_server/internal/pkg/ratelimit"
	"github.com/qs3c/memorial_billing_server/internal/pkg/receipt"
	"github.com/qs3c/memorial_billing_server/internal/pkg/vision"
)

type ExtractionService struct {
	client  vision.Client
	limiter ratelimit.Limiter
	cache   *lru.Cache[string, dto.ExtractionResult]
	cfg     *config.ExtractionConfig
	metrics *metrics.Metrics
	logger  *logrus.Logger
	now     func() time.Time
}

func NewExtractionService(
	client vision.Client,
	limiter ratelimit.Limiter,
	cfg *config.ExtractionConfig,
	m *metrics.Metrics,
	logger *logrus.Logger,
) (*ExtractionService, error) {
	if logger == nil {
		logger = logrus.New()
	}

	s := &ExtractionService{
		client:  client,
		limiter: limiter,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}

	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, dto.ExtractionResult](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create extraction cache: %w", err)
		}
		s.cache = cache
	}

	return s, nil
}

// Extract 识别收据图片。所有失败都以 *ExtractionError 返回，不做内部重试。
func (s *ExtractionService) Extract(ctx context.Context, image []byte, mimeType string) (*dto.ExtractionResult, error) {
	mimeType = normalizeMimeType(mimeType)

	if len(image) == 0 {
		return nil, s.fail(newExtractionError(KindValidation, "Please upload a receipt image.", nil))
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, s.fail(newExtractionError(KindValidation, fmt.Sprintf("Unsupported file type %q. Please upload an image.", mimeType), nil))
	}
	if int64(len(image)) > s.maxImageBytes() {
		return nil, s.fail(newExtractionError(KindPayloadTooLarge,
			fmt.Sprintf("Image is too large. Maximum size is %d MB.", s.maxImageBytes()>>20), nil))
	}

	key := imageKey(image)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			s.metrics.CacheLookup(true)
			s.metrics.ExtractionResult("cached")
			result := cached
			return &result, nil
		}
		s.metrics.CacheLookup(false)
	}

	decision, err := s.limiter.CheckAndReserve(ctx)
	if err != nil {
		s.logger.WithError(err).Error("rate limiter check failed")
		return nil, s.fail(newExtractionError(KindUpstreamError, "Receipt scanning is temporarily unavailable. Please try again later.", err))
	}
	if !decision.Allowed {
		s.logger.WithField("limit", decision.Limit).Info("receipt extraction rate limited")
		return nil, s.fail(newExtractionError(KindRateLimited, decision.Reason, nil))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	start := s.now()
	raw, err := s.client.ExtractText(callCtx, image, mimeType, receipt.Prompt)
	s.metrics.ObserveExtraction(s.now().Sub(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			s.logger.WithError(err).Warn("receipt extraction timed out")
			return nil, s.fail(newExtractionError(KindUpstreamTimeout, "Reading the receipt took too long. Please try again.", err))
		}
		s.logger.WithError(err).Error("receipt extraction failed")
		return nil, s.fail(newExtractionError(KindUpstreamError, "Could not read the receipt right now. Please try again.", err))
	}

	result, err := receipt.Parse(raw, s.today())
	if err != nil {
		s.logger.WithError(err).WithField("raw_length", len(raw)).Warn("unparsable extraction response")
		return nil, s.fail(newExtractionError(KindMalformedResponse,
			"Could not understand the receipt. Please upload a clearer image or enter the details manually.", err))
	}

	if s.cache != nil {
		s.cache.Add(key, *result)
	}
	s.metrics.ExtractionResult("success")
	return result, nil
}

// RateLimitStatus 限流器当前用量
func (s *ExtractionService) RateLimitStatus(ctx context.Context) (*dto.RateLimitStatus, error) {
	st, err := s.limiter.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.RateLimitStatus{
		MinuteUsed:  st.MinuteUsed,
		MinuteLimit: st.MinuteLimit,
		DailyUsed:   st.DailyUsed,
		DailyLimit:  st.DailyLimit,
		ResetDate:   st.ResetDate,
	}, nil
}

func (s *ExtractionService) fail(err *ExtractionError) *ExtractionError {
	s.metrics.ExtractionResult(string(err.Kind))
	return err
}

func (s *ExtractionService) maxImageBytes() int64 {
	if s.cfg.MaxImageBytes > 0 {
		return s.cfg.MaxImageBytes
	}
	return config.DefaultMaxImageBytes
}

func (s *ExtractionService) timeout() time.Duration {
	if s.cfg.Timeout > 0 {
		return s.cfg.Timeout
	}
	return config.DefaultExtractionTimeout
}

// today 缺省日期与每日限额使用同一时区
func (s *ExtractionService) today() string {
	return s.now().In(s.cfg.RateLimit.Location()).Format(receipt.DateLayout)
}

func imageKey(image []byte) string {
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:])
}

// normalizeMimeType "image/JPEG; charset=binary" -> "image/jpeg"
func normalizeMimeType(mimeType string) string {
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
