package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-1.5-flash"

// contentGenerator *genai.GenerativeModel 的生成接口
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiClient Google Gemini 多模态接口
type GeminiClient struct {
	client *genai.Client
	model  contentGenerator
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	gm := client.GenerativeModel(model)
	gm.ResponseMIMEType = "application/json"
	gm.SetTemperature(0)

	return &GeminiClient{client: client, model: gm}, nil
}

// ExtractText 发送图片和提示词，拼接返回的文本片段
func (c *GeminiClient) ExtractText(ctx context.Context, image []byte, mimeType, prompt string) (string, error) {
	resp, err := c.model.GenerateContent(ctx, genai.ImageData(imageFormat(mimeType), image), genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini API call failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

// Close 释放底层连接
func (c *GeminiClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// imageFormat "image/jpeg" -> "jpeg"
func imageFormat(mimeType string) string {
	format := strings.TrimPrefix(strings.ToLower(mimeType), "image/")
	if format == "jpg" {
		return "jpeg"
	}
	return format
}
