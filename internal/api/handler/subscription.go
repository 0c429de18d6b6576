package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/memorial_billing_server/internal/api/middleware"
	"github.com/qs3c/memorial_billing_server/internal/model/dto"
	"github.com/qs3c/memorial_billing_server/internal/pkg/response"
	"github.com/qs3c/memorial_billing_server/internal/service"
)

type SubscriptionHandler struct {
	subscriptionService *service.SubscriptionService
}

func NewSubscriptionHandler(subscriptionService *service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
	}
}

// Get 当前用户的订阅，没有订阅时 data 为 null
// GET /api/v1/subscription
func (h *SubscriptionHandler) Get(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	view, err := h.subscriptionService.GetView(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, view)
}

// Checkout 选择付费套餐
// POST /api/v1/subscription/checkout
func (h *SubscriptionHandler) Checkout(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	sub, err := h.subscriptionService.Checkout(c.Request.Context(), userID, req.Plan)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, h.subscriptionService.ViewOf(sub))
}

// AdminList 订阅列表
// GET /api/v1/admin/subscriptions
func (h *SubscriptionHandler) AdminList(c *gin.Context) {
	var filter dto.SubscriptionFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.ParamError(c, err.Error())
		return
	}
	filter.Normalize()

	items, total, err := h.subscriptionService.List(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessPage(c, total, filter.Page, filter.PageSize, items)
}

// AdminUpsert 管理员修改订阅字段
// PUT /api/v1/admin/subscriptions/:user_id
func (h *SubscriptionHandler) AdminUpsert(c *gin.Context) {
	var req dto.UpsertSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	sub, err := h.subscriptionService.Upsert(c.Request.Context(), c.Param("user_id"), req.Fields())
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, h.subscriptionService.ViewOf(sub))
}
