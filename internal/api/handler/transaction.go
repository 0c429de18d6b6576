package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/memorial_billing_server/internal/api/middleware"
	"github.com/qs3c/memorial_billing_server/internal/model/dto"
	"github.com/qs3c/memorial_billing_server/internal/pkg/response"
	"github.com/qs3c/memorial_billing_server/internal/service"
)

// ProofSigner 把凭证链接换成可临时访问的签名链接
type ProofSigner interface {
	SignProofURL(proofURL string) (string, error)
}

type TransactionHandler struct {
	transactionService *service.TransactionService
	signer             ProofSigner
	signedExpiry       time.Duration
}

// NewTransactionHandler signer 为空时凭证链接原样返回
func NewTransactionHandler(transactionService *service.TransactionService, signer ProofSigner, signedExpiry time.Duration) *TransactionHandler {
	return &TransactionHandler{
		transactionService: transactionService,
		signer:             signer,
		signedExpiry:       signedExpiry,
	}
}

// Create 提交付款凭证
// POST /api/v1/transactions
func (h *TransactionHandler) Create(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	// 交易归属以令牌为准
	tx, err := h.transactionService.Create(c.Request.Context(), userID, &req)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Created(c, tx)
}

// List 当前用户的交易
// GET /api/v1/transactions
func (h *TransactionHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var filter dto.TransactionFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.ParamError(c, err.Error())
		return
	}
	filter.UserID = userID

	h.list(c, filter)
}

// AdminList 全部交易
// GET /api/v1/admin/transactions
func (h *TransactionHandler) AdminList(c *gin.Context) {
	var filter dto.TransactionFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	h.list(c, filter)
}

func (h *TransactionHandler) list(c *gin.Context, filter dto.TransactionFilter) {
	filter.Normalize()
	items, total, err := h.transactionService.List(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessPage(c, total, filter.Page, filter.PageSize, items)
}

// Get 交易详情，普通用户只能查看自己的交易
// GET /api/v1/transactions/:id
func (h *TransactionHandler) Get(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	tx, err := h.transactionService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	if tx.UserID != userID && !middleware.IsAdmin(c) {
		response.NotFoundError(c, "transaction "+c.Param("id")+" not found")
		return
	}

	response.Success(c, tx)
}

// SetStatus 直接修改交易状态，不触发订阅变更
// PUT /api/v1/admin/transactions/:id/status
func (h *TransactionHandler) SetStatus(c *gin.Context) {
	var req dto.UpdateTransactionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	tx, err := h.transactionService.SetStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, tx)
}

// Proof 审核时查看付款凭证
// GET /api/v1/admin/transactions/:id/proof
func (h *TransactionHandler) Proof(c *gin.Context) {
	tx, err := h.transactionService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	if tx.ProofURL == "" {
		response.NotFoundError(c, "transaction "+tx.ID+" has no proof")
		return
	}

	resp := &dto.ProofLinkResponse{TransactionID: tx.ID, URL: tx.ProofURL}
	if h.signer != nil {
		signed, err := h.signer.SignProofURL(tx.ProofURL)
		if err != nil {
			response.Error(c, response.CodeUpstreamError, "could not sign proof link")
			return
		}
		if signed != tx.ProofURL {
			resp.URL = signed
			resp.ExpiresIn = int64(h.signedExpiry / time.Second)
		}
	}

	response.Success(c, resp)
}
