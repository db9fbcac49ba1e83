package ports

import (
	"context"
	"time"

	"deposit-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// PaymentRepository persists deposit records and drives their state machine.
// Methods accepting pgx.Tx are used inside transaction blocks so a status
// transition can commit atomically with a wallet credit.
type PaymentRepository interface {
	Create(ctx context.Context, t *domain.PaymentTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error)
	// ListByUser returns a newest-first page plus the total row count.
	ListByUser(ctx context.Context, userID string, page, limit int) ([]domain.PaymentTransaction, int64, error)
	// MarkConfirmed sets CONFIRMED, records the provider transaction id and
	// creditedAt once. Idempotent on an already-CONFIRMED row; rejects
	// FAILED/EXPIRED rows with INVALID_STATE_TRANSITION.
	MarkConfirmed(ctx context.Context, tx pgx.Tx, id uuid.UUID, providerTxnID string) (*domain.PaymentTransaction, error)
	// MarkFailed and MarkExpired are allowed only from PENDING.
	MarkFailed(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error)
	MarkExpired(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error)
	// ListStalePending returns PENDING transactions created before cutoff,
	// oldest first, for the reconciliation sweep.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentTransaction, error)
}

// WalletRepository covers wallet accounts and their append-only ledger.
type WalletRepository interface {
	GetByUserID(ctx context.Context, userID string) (*domain.WalletAccount, error)
	// UpsertForUpdate creates the wallet with a zero balance if absent and
	// returns the row locked for the remainder of tx.
	UpsertForUpdate(ctx context.Context, tx pgx.Tx, userID, currency string) (*domain.WalletAccount, error)
	// InsertLedgerEntry returns false without error when the
	// (wallet_id, reference) uniqueness key already exists.
	InsertLedgerEntry(ctx context.Context, tx pgx.Tx, entry *domain.WalletLedgerEntry) (bool, error)
	// AddToBalance applies a signed delta and returns the new balance.
	AddToBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)
	ListLedgerEntries(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.WalletLedgerEntry, error)
}

// UserRepository records observed caller identities.
type UserRepository interface {
	Upsert(ctx context.Context, user *domain.User) error
}

// AuditRepository is append-only; there is no read path.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
