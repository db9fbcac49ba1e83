package dto

import (
	"time"

	"deposit-gateway/internal/core/domain"

	"github.com/shopspring/decimal"
)

// DepositRequest is the request body for deposit creation. Amount accepts a
// JSON number or a quoted decimal string.
type DepositRequest struct {
	Provider string          `json:"provider" binding:"required"`
	Amount   decimal.Decimal `json:"amount" binding:"required"`
	Currency string          `json:"currency" binding:"omitempty,len=3"`
}

// TransactionResponse is the wire form of a payment transaction. Amounts are
// rendered as fixed two-decimal strings.
type TransactionResponse struct {
	ID                    string  `json:"id"`
	UserID                string  `json:"userId"`
	Provider              string  `json:"provider"`
	Amount                string  `json:"amount"`
	Currency              string  `json:"currency"`
	Status                string  `json:"status"`
	ProviderTransactionID *string `json:"providerTransactionId,omitempty"`
	CreatedAt             string  `json:"createdAt"`
	UpdatedAt             string  `json:"updatedAt"`
	CreditedAt            *string `json:"creditedAt,omitempty"`
}

// DepositListResponse wraps a paginated deposit history page.
type DepositListResponse struct {
	Deposits []TransactionResponse `json:"deposits"`
	Total    int64                 `json:"total"`
	Page     int                   `json:"page"`
	Limit    int                   `json:"limit"`
}

// FromTransaction converts a domain transaction to its wire form.
func FromTransaction(t *domain.PaymentTransaction) TransactionResponse {
	resp := TransactionResponse{
		ID:                    t.ID.String(),
		UserID:                t.UserID,
		Provider:              string(t.Provider),
		Amount:                t.Amount.StringFixed(2),
		Currency:              t.Currency,
		Status:                string(t.Status),
		ProviderTransactionID: t.ProviderTransactionID,
		CreatedAt:             t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:             t.UpdatedAt.Format(time.RFC3339),
	}
	if t.CreditedAt != nil {
		s := t.CreditedAt.Format(time.RFC3339)
		resp.CreditedAt = &s
	}
	return resp
}
