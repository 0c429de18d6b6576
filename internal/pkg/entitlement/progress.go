// Package entitlement 订阅权益的剩余天数与进度计算。
// 过期状态不落库，所有展示“剩余天数”的地方都必须使用这里的算法。
package entitlement

import (
	"math"
	"time"
)

const day = 24 * time.Hour

// 提醒级别
const (
	WarningNormal   = "normal"
	WarningAdvisory = "advisory"
	WarningUrgent   = "urgent"
)

type Progress struct {
	DaysLeft   int     `json:"days_left"`
	TotalDays  int     `json:"total_days"`
	Percentage float64 `json:"percentage"`
}

// ComputeProgress 计算权益进度，任一日期缺失时返回零值
func ComputeProgress(start, end *time.Time, now time.Time) Progress {
	if start == nil || end == nil {
		return Progress{}
	}

	totalDays := ceilDays(end.Sub(*start))
	if totalDays < 1 {
		totalDays = 1
	}

	daysLeft := ceilDays(end.Sub(now))
	if daysLeft < 0 {
		daysLeft = 0
	}

	elapsed := totalDays - daysLeft
	percentage := float64(elapsed) / float64(totalDays) * 100
	percentage = math.Max(0, math.Min(100, percentage))

	return Progress{
		DaysLeft:   daysLeft,
		TotalDays:  totalDays,
		Percentage: percentage,
	}
}

// IsExpired 剩余天数为 0 即视为过期
func (p Progress) IsExpired() bool {
	return p.DaysLeft == 0
}

// WarningLevel (0,7] 紧急续费，(7,14] 提醒，其余正常
func WarningLevel(daysLeft int) string {
	switch {
	case daysLeft > 0 && daysLeft <= 7:
		return WarningUrgent
	case daysLeft > 7 && daysLeft <= 14:
		return WarningAdvisory
	default:
		return WarningNormal
	}
}

func ceilDays(d time.Duration) int {
	return int(math.Ceil(float64(d) / float64(day)))
}
