package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/qs3c/memorial_billing_server/config"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// ErrEmptyResponse 模型没有返回任何文本
var ErrEmptyResponse = errors.New("vision model returned no content")

// Client 视觉模型客户端，只负责把图片和提示词发出去并取回文本
type Client interface {
	ExtractText(ctx context.Context, image []byte, mimeType, prompt string) (string, error)
}

// NewClient 根据配置创建对应厂商的客户端
func NewClient(ctx context.Context, cfg *config.ExtractionConfig) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderGemini, "":
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
	case ProviderOpenAI:
		return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown vision provider: %s", cfg.Provider)
	}
}
