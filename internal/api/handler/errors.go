package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/memorial_billing_server/internal/model/dto"
	"github.com/qs3c/memorial_billing_server/internal/pkg/response"
	"github.com/qs3c/memorial_billing_server/internal/service"
)

// 识别失败分类对应的错误码
var extractionCodes = map[service.ExtractionErrorKind]int{
	service.KindValidation:        response.CodeParamError,
	service.KindPayloadTooLarge:   response.CodePayloadTooLarge,
	service.KindRateLimited:       response.CodeRateLimited,
	service.KindUpstreamTimeout:   response.CodeUpstreamTimeout,
	service.KindUpstreamError:     response.CodeUpstreamError,
	service.KindMalformedResponse: response.CodeMalformedResponse,
}

// handleError 将 service 层错误映射为统一响应
func handleError(c *gin.Context, err error) {
	var (
		validationErr *service.ValidationError
		notFoundErr   *service.NotFoundError
		extractionErr *service.ExtractionError
		partialErr    *service.PartialFailureError
		persistErr    *service.PersistenceError
	)

	switch {
	case errors.As(err, &validationErr):
		response.ParamError(c, validationErr.Message)
	case errors.As(err, &notFoundErr):
		response.NotFoundError(c, notFoundErr.Error())
	case errors.As(err, &extractionErr):
		code, ok := extractionCodes[extractionErr.Kind]
		if !ok {
			code = response.CodeServerError
		}
		response.Error(c, code, extractionErr.Reason)
	case errors.As(err, &partialErr):
		response.ErrorWithData(c, response.CodePartialFailure, partialErr.Error(), &dto.PartialFailureResult{
			Transaction:       partialErr.Transaction,
			TransactionStatus: partialErr.Transaction.Status,
			SubscriptionError: partialErr.Err.Error(),
		})
	case errors.Is(err, service.ErrReviewNotPending):
		response.ConflictError(c, err.Error())
	case errors.As(err, &persistErr):
		response.ServerError(c, persistErr.Error())
	default:
		response.ServerError(c, "")
	}
}
