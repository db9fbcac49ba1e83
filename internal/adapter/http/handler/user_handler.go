package handler

import (
	"strconv"

	"deposit-gateway/internal/adapter/http/dto"
	"deposit-gateway/internal/adapter/http/middleware"
	"deposit-gateway/internal/core/ports"
	"deposit-gateway/pkg/response"

	"github.com/gin-gonic/gin"
)

// UserHandler handles user-scoped read endpoints.
type UserHandler struct {
	paymentSvc ports.PaymentService
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(paymentSvc ports.PaymentService) *UserHandler {
	return &UserHandler{paymentSvc: paymentSvc}
}

// ListDeposits handles GET /api/user/deposits. Admins may pass ?userId= to
// inspect another user's history; everyone else gets their own.
func (h *UserHandler) ListDeposits(c *gin.Context) {
	caller := middleware.CallerIdentity(c)

	userID := c.Query("userId")
	if userID == "" {
		userID = caller.UserID
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	txns, total, err := h.paymentSvc.ListUserDeposits(c.Request.Context(), userID, caller, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	deposits := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		deposits = append(deposits, dto.FromTransaction(&txns[i]))
	}
	response.OK(c, dto.DepositListResponse{
		Deposits: deposits,
		Total:    total,
		Page:     page,
		Limit:    limit,
	})
}
