package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 套餐
const (
	PlanFree        = "free"
	PlanEternalEcho = "eternal_echo"
	PlanPaws        = "paws"
)

// 订阅状态
const (
	SubscriptionPending   = "pending"
	SubscriptionActive    = "active"
	SubscriptionExpired   = "expired"
	SubscriptionCancelled = "cancelled"
)

// Subscription 每个用户一条权益记录，user_id 唯一
type Subscription struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	UserID    string     `gorm:"size:64;not null;uniqueIndex" json:"user_id"`
	Plan      string     `gorm:"size:20;not null;default:free" json:"plan"`
	Status    string     `gorm:"size:20;not null;default:active;index" json:"status"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `gorm:"index" json:"end_date"`
	AutoRenew bool       `gorm:"not null" json:"auto_renew"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

func IsValidPlan(plan string) bool {
	switch plan {
	case PlanFree, PlanEternalEcho, PlanPaws:
		return true
	}
	return false
}

func IsValidSubscriptionStatus(status string) bool {
	switch status {
	case SubscriptionPending, SubscriptionActive, SubscriptionExpired, SubscriptionCancelled:
		return true
	}
	return false
}
