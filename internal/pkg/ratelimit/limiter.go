package ratelimit

import (
	"context"
	"fmt"
	"time"
)

const (
	Window = time.Minute

	dateLayout = "2006-01-02"
)

// 拒绝原因
const (
	ReasonMinute = "minute"
	ReasonDaily  = "daily"
)

// Decision 限流判定结果，拒绝不是错误
type Decision struct {
	Allowed bool
	Reason  string
	Limit   string
}

// Status 当前用量快照
type Status struct {
	MinuteUsed  int
	MinuteLimit int
	DailyUsed   int
	DailyLimit  int
	ResetDate   string
}

// Limiter 识别接口调用的限流器，检查与预占是同一个原子步骤
type Limiter interface {
	CheckAndReserve(ctx context.Context) (Decision, error)
	Status(ctx context.Context) (Status, error)
}

type Config struct {
	PerMinute int
	PerDay    int
	Location  *time.Location
}

func (c Config) withDefaults() Config {
	if c.PerMinute <= 0 {
		c.PerMinute = 10
	}
	if c.PerDay <= 0 {
		c.PerDay = 100
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

func minuteRejected(limit int) Decision {
	return Decision{
		Allowed: false,
		Limit:   ReasonMinute,
		Reason:  fmt.Sprintf("Too many requests (%d per minute). Please wait a minute and try again.", limit),
	}
}

func dailyRejected(limit int) Decision {
	return Decision{
		Allowed: false,
		Limit:   ReasonDaily,
		Reason:  fmt.Sprintf("Daily limit reached (%d scans per day). Please try again tomorrow.", limit),
	}
}

func allowed() Decision {
	return Decision{Allowed: true}
}
