package dto

// ExtractionResult 收据识别结果，所有字段在归一化后都存在
type ExtractionResult struct {
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	ReferenceNo   string  `json:"reference_no"`
	PaymentMethod string  `json:"payment_method"`
	Date          string  `json:"date"`
	SenderName    *string `json:"sender_name"`
	Status        string  `json:"status"`
}

// ExtractReceiptResponse 识别接口响应
type ExtractReceiptResponse struct {
	ExtractionResult
	ProofURL string `json:"proof_url,omitempty"`
	// Draft 用户确认后可直接提交到 POST /transactions
	Draft *CreateTransactionRequest `json:"draft"`
}

// RateLimitStatus 识别限流器当前用量
type RateLimitStatus struct {
	MinuteUsed  int    `json:"minute_used"`
	MinuteLimit int    `json:"minute_limit"`
	DailyUsed   int    `json:"daily_used"`
	DailyLimit  int    `json:"daily_limit"`
	ResetDate   string `json:"reset_date"`
}
