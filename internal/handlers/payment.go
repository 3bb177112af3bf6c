// internal/handlers/payment.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/emprendedores-unidos/marketplace/internal/services"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
}

func NewPaymentHandler(paymentService *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

// POST /payments/create-intent
func (h *PaymentHandler) CreatePaymentIntent(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req services.CreatePaymentIntentRequest
	if !bindJSON(c, &req) {
		return
	}

	intent, err := h.paymentService.CreatePaymentIntent(c.Request.Context(), userID, &req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, intent)
}

// POST /payments/confirm-payment
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req services.ConfirmPaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	response, err := h.paymentService.ConfirmPayment(c.Request.Context(), userID, &req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, response)
}

// GET /payments/history
func (h *PaymentHandler) GetPaymentHistory(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	orders, total, err := h.paymentService.GetPaymentHistory(c.Request.Context(), userID, params)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(orders, total, params))
}

// POST /payments/refund
func (h *PaymentHandler) ProcessRefund(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req services.RefundOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.paymentService.Refund(c.Request.Context(), actor, &req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}
