package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// reserveScript 返回 0 放行，1 超出每日上限，2 超出每分钟上限
// KEYS[1] 窗口 zset，KEYS[2] 当日计数
// ARGV: now(ms), cutoff(ms), perMinute, perDay, member, dailyTTL(s), window(ms)
var reserveScript = redis.NewScript(`
local perMinute = tonumber(ARGV[3])
local perDay = tonumber(ARGV[4])

local daily = tonumber(redis.call('GET', KEYS[2]) or '0')
if daily >= perDay then
	return 1
end

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
if redis.call('ZCARD', KEYS[1]) >= perMinute then
	return 2
end

redis.call('ZADD', KEYS[1], ARGV[1], ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[7])
redis.call('INCR', KEYS[2])
redis.call('EXPIRE', KEYS[2], ARGV[6])
return 0
`)

const dailyKeyTTL = 48 * time.Hour

// RedisLimiter 与 MemoryLimiter 同样的算法，状态放在 Redis 中，
// 多个实例共享同一份额度。
type RedisLimiter struct {
	client *redis.Client
	cfg    Config
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, cfg Config, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit:extract"
	}
	return &RedisLimiter{
		client: client,
		cfg:    cfg.withDefaults(),
		prefix: prefix,
		now:    time.Now,
	}
}

// CheckAndReserve 在一个 Lua 脚本里完成检查和预占
func (l *RedisLimiter) CheckAndReserve(ctx context.Context) (Decision, error) {
	now := l.now()
	nowMs := now.UnixMilli()
	cutoff := nowMs - Window.Milliseconds()

	keys := []string{l.windowKey(), l.dailyKey(now)}
	code, err := reserveScript.Run(ctx, l.client, keys,
		strconv.FormatInt(nowMs, 10),
		strconv.FormatInt(cutoff, 10),
		l.cfg.PerMinute,
		l.cfg.PerDay,
		fmt.Sprintf("%d-%s", nowMs, uuid.NewString()),
		int64(dailyKeyTTL.Seconds()),
		Window.Milliseconds(),
	).Int()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limiter unavailable: %w", err)
	}

	switch code {
	case 1:
		return dailyRejected(l.cfg.PerDay), nil
	case 2:
		return minuteRejected(l.cfg.PerMinute), nil
	default:
		return allowed(), nil
	}
}

// Status 读取当前用量，不做预占
func (l *RedisLimiter) Status(ctx context.Context) (Status, error) {
	now := l.now()
	cutoff := now.UnixMilli() - Window.Milliseconds()

	minuteUsed, err := l.client.ZCount(ctx, l.windowKey(), "("+strconv.FormatInt(cutoff, 10), "+inf").Result()
	if err != nil {
		return Status{}, fmt.Errorf("failed to read window: %w", err)
	}

	dailyUsed, err := l.client.Get(ctx, l.dailyKey(now)).Int()
	if err != nil && err != redis.Nil {
		return Status{}, fmt.Errorf("failed to read daily counter: %w", err)
	}

	return Status{
		MinuteUsed:  int(minuteUsed),
		MinuteLimit: l.cfg.PerMinute,
		DailyUsed:   dailyUsed,
		DailyLimit:  l.cfg.PerDay,
		ResetDate:   l.today(now),
	}, nil
}

func (l *RedisLimiter) windowKey() string {
	return l.prefix + ":window"
}

func (l *RedisLimiter) dailyKey(now time.Time) string {
	return l.prefix + ":daily:" + l.today(now)
}

func (l *RedisLimiter) today(now time.Time) string {
	return now.In(l.cfg.Location).Format(dateLayout)
}
