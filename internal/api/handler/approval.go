package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/memorial_billing_server/internal/pkg/response"
	"github.com/qs3c/memorial_billing_server/internal/service"
)

type ApprovalHandler struct {
	approvalService *service.ApprovalService
}

func NewApprovalHandler(approvalService *service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{
		approvalService: approvalService,
	}
}

// Approve 审核通过并开通订阅，订阅开通失败时返回 207
// POST /api/v1/admin/transactions/:id/approve
func (h *ApprovalHandler) Approve(c *gin.Context) {
	result, err := h.approvalService.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessWithMessage(c, "审核通过", result)
}

// Reject 审核拒绝
// POST /api/v1/admin/transactions/:id/reject
func (h *ApprovalHandler) Reject(c *gin.Context) {
	tx, err := h.approvalService.Reject(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessWithMessage(c, "已拒绝", tx)
}

// Activate 为已通过的交易重新开通订阅
// POST /api/v1/admin/transactions/:id/activate
func (h *ApprovalHandler) Activate(c *gin.Context) {
	result, err := h.approvalService.ActivateSubscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, result)
}

// Reconcile 立即执行一次补开订阅
// POST /api/v1/admin/reconcile
func (h *ApprovalHandler) Reconcile(c *gin.Context) {
	report, err := h.approvalService.Reconcile(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, report)
}
