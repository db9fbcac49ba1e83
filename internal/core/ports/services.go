package ports

import (
	"context"
	"time"

	"deposit-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// SignatureService canonicalises webhook payloads and computes HMAC-SHA256
// signatures over them.
type SignatureService interface {
	// Canonicalize renders sorted key=value pairs joined by "&".
	Canonicalize(payload map[string]any) string
	// Sign returns the lowercase hex HMAC-SHA256 of the canonical form.
	Sign(secret string, payload map[string]any) string
	// Verify recomputes and compares in constant time.
	Verify(secret string, payload map[string]any, signature string) bool
}

// CreditResult reports the outcome of a wallet credit attempt.
type CreditResult struct {
	Balance  decimal.Decimal
	Credited bool // false when the (walletId, reference) key already existed
}

// LedgerService is the only path through which balances change. There is
// deliberately no plain "add to balance" operation.
type LedgerService interface {
	// Credit runs CreditTx inside its own database transaction.
	Credit(ctx context.Context, userID string, amount decimal.Decimal, currency, reference string) (*CreditResult, error)
	// CreditTx performs the upsert-wallet / insert-ledger-entry /
	// increment-balance sequence inside the caller's transaction.
	CreditTx(ctx context.Context, tx pgx.Tx, userID string, amount decimal.Decimal, currency, reference string) (*CreditResult, error)
	// DebitTx is the symmetric operation, reserved for future withdrawal
	// work. It refuses to take the balance negative.
	DebitTx(ctx context.Context, tx pgx.Tx, userID string, amount decimal.Decimal, currency, reference string) (*CreditResult, error)
}

// DepositRequest holds validated input for deposit creation.
type DepositRequest struct {
	UserID   string
	Role     domain.Role
	Provider domain.Provider
	Amount   decimal.Decimal
	Currency string
}

// DepositResponse is returned to the caller, who navigates the user to the
// provider redirect URL.
type DepositResponse struct {
	TransactionID uuid.UUID `json:"transactionId"`
	RedirectURL   string    `json:"redirectUrl"`
}

// WebhookResult reports whether a webhook delivery moved money. A replay of
// an already-settled webhook reports Credited=false.
type WebhookResult struct {
	Credited bool `json:"credited"`
}

// PaymentService orchestrates the deposit lifecycle.
type PaymentService interface {
	CreateDeposit(ctx context.Context, req DepositRequest) (*DepositResponse, error)
	GetStatus(ctx context.Context, id uuid.UUID, caller domain.Identity) (*domain.PaymentTransaction, error)
	ListUserDeposits(ctx context.Context, userID string, caller domain.Identity, page, limit int) ([]domain.PaymentTransaction, int64, error)
	HandleWebhook(ctx context.Context, rawPayload []byte, sourceIP string) (*WebhookResult, error)
	Reconcile(ctx context.Context, id uuid.UUID, caller domain.Identity) (*domain.PaymentTransaction, error)
	// ExpireStalePending is the reconciliation sweep body; it is idempotent
	// and safe to run concurrently with webhook handling.
	ExpireStalePending(ctx context.Context) (int, error)
}

// RetryTask carries the verified webhook intent so a retry can re-apply the
// settled outcome without the original payload.
type RetryTask struct {
	TransactionID  uuid.UUID
	ProviderTxnID  string
	DeclaredStatus domain.PaymentStatus
	Attempt        int
}

// RetryProcessor is supplied to the queue at construction. A non-nil error
// re-enqueues the task at Attempt+1.
type RetryProcessor func(ctx context.Context, task RetryTask) error

// RetryQueue schedules delayed retries for webhook-processing failures.
// Best effort and in-process only: tasks do not survive a restart. The
// reconciliation sweep is the authoritative safety net.
type RetryQueue interface {
	Enqueue(task RetryTask)
	Stop()
}

// AuditService records state-changing events for forensic review.
type AuditService interface {
	Record(ctx context.Context, actor string, action domain.AuditAction, entityType, entityID string, metadata map[string]any)
}

// WebhookResultCache is a Redis fast path answering byte-identical webhook
// replays. The ledger uniqueness constraint stays the sole correctness
// mechanism; a cache miss or failure just falls through to the database.
type WebhookResultCache interface {
	Get(ctx context.Context, key string) (*WebhookResult, error) // nil, nil on miss
	Set(ctx context.Context, key string, result *WebhookResult, ttl time.Duration) error
}
