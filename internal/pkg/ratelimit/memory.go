package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter 进程内滑动窗口 + 每日计数。
// 多实例部署时每个实例各自计数，实际上限会按实例数放大。
type MemoryLimiter struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	window    []time.Time
	daily     int
	resetDate string
}

func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		cfg: cfg.withDefaults(),
		now: time.Now,
	}
}

// CheckAndReserve 检查并预占一次调用额度
func (l *MemoryLimiter) CheckAndReserve(ctx context.Context) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollDate(now)

	if l.daily >= l.cfg.PerDay {
		return dailyRejected(l.cfg.PerDay), nil
	}

	l.prune(now)
	if len(l.window) >= l.cfg.PerMinute {
		return minuteRejected(l.cfg.PerMinute), nil
	}

	l.window = append(l.window, now)
	l.daily++
	return allowed(), nil
}

// Status 返回当前用量
func (l *MemoryLimiter) Status(ctx context.Context) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollDate(now)
	l.prune(now)

	return Status{
		MinuteUsed:  len(l.window),
		MinuteLimit: l.cfg.PerMinute,
		DailyUsed:   l.daily,
		DailyLimit:  l.cfg.PerDay,
		ResetDate:   l.resetDate,
	}, nil
}

// rollDate 日期变化时清零每日计数
func (l *MemoryLimiter) rollDate(now time.Time) {
	today := now.In(l.cfg.Location).Format(dateLayout)
	if today != l.resetDate {
		l.daily = 0
		l.resetDate = today
	}
}

// prune 丢弃窗口外的时间戳，window 按时间有序
func (l *MemoryLimiter) prune(now time.Time) {
	i := 0
	for i < len(l.window) && now.Sub(l.window[i]) >= Window {
		i++
	}
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
	}
}
