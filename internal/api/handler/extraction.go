package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/memorial_billing_server/internal/api/middleware"
	"github.com/qs3c/memorial_billing_server/internal/model/dto"
	"github.com/qs3c/memorial_billing_server/internal/pkg/response"
	"github.com/qs3c/memorial_billing_server/internal/service"
)

// ReceiptStore 付款凭证存储，未配置 OSS 时为空
type ReceiptStore interface {
	UploadReceipt(userID string, data []byte, contentType string) (string, error)
}

type ExtractionHandler struct {
	extractionService *service.ExtractionService
	store             ReceiptStore
	logger            *logrus.Logger
}

func NewExtractionHandler(extractionService *service.ExtractionService, store ReceiptStore, logger *logrus.Logger) *ExtractionHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &ExtractionHandler{
		extractionService: extractionService,
		store:             store,
		logger:            logger,
	}
}

// Extract 识别收据图片
// POST /api/v1/receipts/extract (multipart: file)
func (h *ExtractionHandler) Extract(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.Error(c, response.CodePayloadTooLarge, "Image is too large.")
			return
		}
		response.ParamError(c, "Please upload a receipt image.")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.ParamError(c, "Could not read the uploaded file.")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	result, err := h.extractionService.Extract(c.Request.Context(), data, mimeType)
	if err != nil {
		handleError(c, err)
		return
	}

	resp := dto.ExtractReceiptResponse{ExtractionResult: *result}
	if h.store != nil {
		proofURL, err := h.store.UploadReceipt(userID, data, mimeType)
		if err != nil {
			// 凭证存储失败不影响识别结果，用户可重新上传
			h.logger.WithField("user_id", userID).WithError(err).Warn("failed to store receipt")
		} else {
			resp.ProofURL = proofURL
		}
	}
	resp.Draft = dto.CreateTransactionRequestFromExtraction(userID, result, resp.ProofURL)

	response.Success(c, resp)
}

// RateLimit 识别限流器用量
// GET /api/v1/admin/ratelimit
func (h *ExtractionHandler) RateLimit(c *gin.Context) {
	status, err := h.extractionService.RateLimitStatus(c.Request.Context())
	if err != nil {
		response.ServerError(c, "限流器状态不可用")
		return
	}
	response.Success(c, status)
}
