package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelTransactionReview = "transaction_review"

	TypeTransactionReview = "transaction_review"
)

// ReviewMessage 交易审核结果通知
type ReviewMessage struct {
	Type               string     `json:"type"`
	UserID             string     `json:"user_id"`
	TransactionID      string     `json:"transaction_id"`
	Status             string     `json:"status"`
	SubscriptionStatus string     `json:"subscription_status,omitempty"`
	EndDate            *time.Time `json:"end_date,omitempty"`
	Message            string     `json:"message,omitempty"`
	Error              string     `json:"error,omitempty"`
}

// 审核结果对应的提示消息
var StatusMessages = map[string]string{
	"approved": "付款已确认，订阅已开通",
	"rejected": "付款凭证未通过审核",
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishReview 发布审核结果
func (p *Publisher) PublishReview(ctx context.Context, msg *ReviewMessage) error {
	msg.Type = TypeTransactionReview
	if msg.Message == "" {
		msg.Message = StatusMessages[msg.Status]
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal review message: %w", err)
	}

	return p.client.Publish(ctx, ChannelTransactionReview, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅审核结果，阻塞直到 ctx 结束
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ReviewMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelTransactionReview)
	defer pubsub.Close()

	// 等待订阅确认，避免之后立即发布的消息丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var reviewMsg ReviewMessage
			if err := json.Unmarshal([]byte(msg.Payload), &reviewMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&reviewMsg)
		}
	}
}
