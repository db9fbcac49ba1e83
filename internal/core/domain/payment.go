package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Provider identifies an external payment network.
type Provider string

const (
	ProviderJazzCash  Provider = "JAZZCASH"
	ProviderEasyPaisa Provider = "EASYPAISA"
	ProviderSadaPay   Provider = "SADAPAY"
)

// ParseProvider maps a wire string to a known provider.
func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderJazzCash, ProviderEasyPaisa, ProviderSadaPay:
		return Provider(s), true
	}
	return "", false
}

// PaymentStatus represents the lifecycle state of a deposit.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusConfirmed PaymentStatus = "CONFIRMED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusExpired   PaymentStatus = "EXPIRED"
)

// IsTerminal returns true for states a transaction never leaves.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusConfirmed || s == PaymentStatusFailed || s == PaymentStatusExpired
}

// CanTransitionTo encodes the deposit state machine. Re-confirming a
// CONFIRMED transaction is allowed as an idempotent no-op; every other move
// out of a terminal state is forbidden.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return next == PaymentStatusConfirmed || next == PaymentStatusFailed || next == PaymentStatusExpired
	case PaymentStatusConfirmed:
		return next == PaymentStatusConfirmed
	default:
		return false
	}
}

// DefaultCurrency applies when a deposit request omits the currency.
const DefaultCurrency = "PKR"

// PaymentTransaction is a deposit record. It is created PENDING and advanced
// only through the narrow transitions of the payment store; it is never
// deleted.
type PaymentTransaction struct {
	ID                    uuid.UUID       `json:"id"`
	UserID                string          `json:"user_id"`
	Provider              Provider        `json:"provider"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	Status                PaymentStatus   `json:"status"`
	ProviderTransactionID *string         `json:"provider_transaction_id,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
	CreditedAt            *time.Time      `json:"credited_at,omitempty"` // set only by the transition that moves funds
}

// IsTerminal returns true if the transaction is in a final state.
func (t *PaymentTransaction) IsTerminal() bool {
	return t.Status.IsTerminal()
}
