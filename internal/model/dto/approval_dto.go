package dto

import "github.com/qs3c/memorial_billing_server/internal/model"

// ApprovalResult 审核通过的结果，包含两步各自的产出
type ApprovalResult struct {
	Transaction  *model.Transaction `json:"transaction"`
	Subscription *SubscriptionView  `json:"subscription,omitempty"`
}

// PartialFailureResult 交易已通过但订阅开通失败
type PartialFailureResult struct {
	Transaction       *model.Transaction `json:"transaction"`
	TransactionStatus string             `json:"transaction_status"`
	SubscriptionError string             `json:"subscription_error"`
}

// ReconcileReport 补偿任务结果
type ReconcileReport struct {
	Checked   int      `json:"checked"`
	Activated []string `json:"activated"`
	Failed    []string `json:"failed"`
}
