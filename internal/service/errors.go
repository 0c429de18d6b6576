package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/qs3c/memorial_billing_server/internal/model"
)

// ValidationError 输入不合法
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func newValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError 记录不存在
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// PersistenceError 存储层失败，消息原样透出底层错误
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// PartialFailureError 交易已审批通过，但订阅没有开通成功。
// 交易保持 approved，可通过 ActivateSubscription 或对账补偿。
type PartialFailureError struct {
	Transaction *model.Transaction
	Err         error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("transaction %s approved but subscription activation failed: %v", e.Transaction.ID, e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}

// ExtractionErrorKind 识别失败分类
type ExtractionErrorKind string

const (
	KindValidation        ExtractionErrorKind = "validation"
	KindPayloadTooLarge   ExtractionErrorKind = "payload_too_large"
	KindRateLimited       ExtractionErrorKind = "rate_limited"
	KindUpstreamTimeout   ExtractionErrorKind = "upstream_timeout"
	KindUpstreamError     ExtractionErrorKind = "upstream_error"
	KindMalformedResponse ExtractionErrorKind = "malformed_response"
)

// ExtractionError 收据识别失败，Reason 可直接展示给用户
type ExtractionError struct {
	Kind   ExtractionErrorKind
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	return e.Reason
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// HTTPStatus 失败分类对应的 HTTP 状态码
func (e *ExtractionError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func newExtractionError(kind ExtractionErrorKind, reason string, err error) *ExtractionError {
	return &ExtractionError{Kind: kind, Reason: reason, Err: err}
}

// ErrReviewNotPending 开启 require_pending 后，只允许审核 pending 交易
var ErrReviewNotPending = errors.New("transaction has already been reviewed")
