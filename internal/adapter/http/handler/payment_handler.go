package handler

import (
	"io"

	"deposit-gateway/internal/adapter/http/dto"
	"deposit-gateway/internal/adapter/http/middleware"
	"deposit-gateway/internal/core/domain"
	"deposit-gateway/internal/core/ports"
	"deposit-gateway/pkg/apperror"
	"deposit-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PaymentHandler handles deposit lifecycle endpoints.
type PaymentHandler struct {
	paymentSvc ports.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentSvc ports.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentSvc: paymentSvc}
}

// CreateDeposit handles POST /api/payment/deposit.
func (h *PaymentHandler) CreateDeposit(c *gin.Context) {
	caller := middleware.CallerIdentity(c)

	var req dto.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	provider, ok := domain.ParseProvider(req.Provider)
	if !ok {
		response.Error(c, apperror.Validation("unknown provider"))
		return
	}

	result, err := h.paymentSvc.CreateDeposit(c.Request.Context(), ports.DepositRequest{
		UserID:   caller.UserID,
		Role:     caller.Role,
		Provider: provider,
		Amount:   req.Amount,
		Currency: req.Currency,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// GetStatus handles GET /api/payment/status/:id.
func (h *PaymentHandler) GetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("transaction id must be a UUID"))
		return
	}

	txn, err := h.paymentSvc.GetStatus(c.Request.Context(), id, middleware.CallerIdentity(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromTransaction(txn))
}

// Webhook handles POST /api/payment/webhook. The raw body is passed through
// untouched: signature verification needs the exact wire bytes.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.BadRequest("cannot read request body"))
		return
	}

	result, err := h.paymentSvc.HandleWebhook(c.Request.Context(), body, c.ClientIP())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Reconcile handles POST /api/payment/reconcile/:id.
func (h *PaymentHandler) Reconcile(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("transaction id must be a UUID"))
		return
	}

	txn, err := h.paymentSvc.Reconcile(c.Request.Context(), id, middleware.CallerIdentity(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromTransaction(txn))
}
