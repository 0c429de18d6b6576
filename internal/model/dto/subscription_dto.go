package dto

import "time"

// SubscriptionFields 订阅的部分更新字段，nil 表示不修改
type SubscriptionFields struct {
	Plan      *string    `json:"plan,omitempty"`
	Status    *string    `json:"status,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	AutoRenew *bool      `json:"auto_renew,omitempty"`
}

// UpsertSubscriptionRequest 管理员修改订阅
// expiry_date 为旧字段名，仅在 end_date 缺省时作为其别名
type UpsertSubscriptionRequest struct {
	SubscriptionFields
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
}

// Fields 合并旧字段后的更新字段
func (r *UpsertSubscriptionRequest) Fields() SubscriptionFields {
	fields := r.SubscriptionFields
	if fields.EndDate == nil && r.ExpiryDate != nil {
		fields.EndDate = r.ExpiryDate
	}
	return fields
}

// CheckoutRequest 用户发起购买
type CheckoutRequest struct {
	Plan string `json:"plan" binding:"required"`
}

// SubscriptionFilter 订阅查询条件
type SubscriptionFilter struct {
	UserID   string `form:"user_id"`
	Status   string `form:"status"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

func (f *SubscriptionFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 20
	}
}

// SubscriptionView 订阅对外展示结构
type SubscriptionView struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Plan       string     `json:"plan"`
	Status     string     `json:"status"`
	StartDate  *time.Time `json:"start_date"`
	EndDate    *time.Time `json:"end_date"`
	ExpiryDate *time.Time `json:"expiry_date"`
	AutoRenew  bool       `json:"auto_renew"`
	DaysLeft   int        `json:"days_left"`
	TotalDays  int        `json:"total_days"`
	Percentage float64    `json:"percentage"`
	Warning    string     `json:"warning"`
	Expired    bool       `json:"expired"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
