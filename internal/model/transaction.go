package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 交易状态
const (
	TransactionPending   = "pending"
	TransactionApproved  = "approved"
	TransactionRejected  = "rejected"
	TransactionCompleted = "completed"
	TransactionFailed    = "failed"
)

const DefaultCurrency = "PHP"

type Transaction struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	UserID        string     `gorm:"size:64;not null;index" json:"user_id"`
	Amount        float64    `gorm:"type:decimal(12,2);not null;default:0" json:"amount"`
	Currency      string     `gorm:"size:8;not null;default:PHP" json:"currency"`
	PaymentMethod string     `gorm:"size:50" json:"payment_method"` // GCash, Maya, Bank Transfer
	ReferenceNo   string     `gorm:"size:100;index" json:"reference_no"`
	ProofURL      string     `gorm:"size:500" json:"proof_url,omitempty"`
	Status        string     `gorm:"size:20;not null;default:pending;index" json:"status"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// IsValidTransactionStatus 校验交易状态取值
func IsValidTransactionStatus(status string) bool {
	switch status {
	case TransactionPending, TransactionApproved, TransactionRejected, TransactionCompleted, TransactionFailed:
		return true
	}
	return false
}

// IsReviewStatus 审核结果状态（会记录 reviewed_at）
func IsReviewStatus(status string) bool {
	return status == TransactionApproved || status == TransactionRejected
}
