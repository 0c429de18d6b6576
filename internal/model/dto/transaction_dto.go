package dto

// CreateTransactionRequest 提交付款凭证请求（手动填写或来自识别结果）
// Status 字段会被忽略，新交易一律为 pending
type CreateTransactionRequest struct {
	UserID        string  `json:"user_id,omitempty"`
	Amount        float64 `json:"amount" binding:"min=0"`
	Currency      string  `json:"currency,omitempty" binding:"omitempty,max=8"`
	PaymentMethod string  `json:"payment_method,omitempty" binding:"omitempty,max=50"`
	ReferenceNo   string  `json:"reference_no,omitempty" binding:"omitempty,max=100"`
	ProofURL      string  `json:"proof_url,omitempty" binding:"omitempty,max=500"`
	Status        string  `json:"status,omitempty"`
}

// CreateTransactionRequestFromExtraction 由识别结果生成交易请求
func CreateTransactionRequestFromExtraction(userID string, result *ExtractionResult, proofURL string) *CreateTransactionRequest {
	return &CreateTransactionRequest{
		UserID:        userID,
		Amount:        result.Amount,
		Currency:      result.Currency,
		PaymentMethod: result.PaymentMethod,
		ReferenceNo:   result.ReferenceNo,
		ProofURL:      proofURL,
	}
}

// TransactionFilter 交易查询条件
type TransactionFilter struct {
	UserID   string `form:"user_id"`
	Status   string `form:"status"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

// Normalize 分页参数兜底
func (f *TransactionFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 20
	}
}

// UpdateTransactionStatusRequest 管理员直接修改状态
type UpdateTransactionStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ProofLinkResponse 凭证查看链接
type ProofLinkResponse struct {
	TransactionID string `json:"transaction_id"`
	URL           string `json:"url"`
	ExpiresIn     int64  `json:"expires_in,omitempty"` // 秒，0 表示不过期
}
