package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletAccount holds a user's balance. One per user, created lazily on the
// first credit. Balance is never cached; the database row is the source of
// truth.
type WalletAccount struct {
	ID        uuid.UUID       `json:"id"`
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// LedgerDirection is the sign of a ledger entry.
type LedgerDirection string

const (
	LedgerDirectionCredit LedgerDirection = "CREDIT"
	LedgerDirectionDebit  LedgerDirection = "DEBIT"
)

// WalletLedgerEntry is an immutable record of a single directional money
// movement. The (WalletID, Reference) pair is unique — that constraint is
// what makes double-credit structurally impossible.
type WalletLedgerEntry struct {
	ID        uuid.UUID       `json:"id"`
	WalletID  uuid.UUID       `json:"wallet_id"`
	Direction LedgerDirection `json:"direction"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"` // causing payment transaction id
	CreatedAt time.Time       `json:"created_at"`
}
