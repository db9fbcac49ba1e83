package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deposit-gateway/internal/core/domain"
	"deposit-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// paymentColumns is shared by every SELECT/RETURNING over payment
// transactions. Amounts travel as text so decimal parsing stays exact.
const paymentColumns = `id, user_id, provider, amount::text, currency, status,
	provider_transaction_id, created_at, updated_at, credited_at`

// PaymentRepo implements ports.PaymentRepository. Status transitions are
// guarded in SQL, so a concurrent writer racing past the service-layer check
// still cannot move a row out of a terminal state.
type PaymentRepo struct {
	pool Pool
}

// NewPaymentRepo creates a new PaymentRepo.
func NewPaymentRepo(pool Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

// Create inserts a new payment transaction.
func (r *PaymentRepo) Create(ctx context.Context, t *domain.PaymentTransaction) error {
	query := `INSERT INTO payment_transactions (id, user_id, provider, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		t.ID, t.UserID, string(t.Provider), t.Amount.StringFixed(2),
		t.Currency, string(t.Status), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID. Returns nil, nil when absent.
func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM payment_transactions WHERE id = $1`, paymentColumns)
	return scanPaymentTransaction(r.pool.QueryRow(ctx, query, id))
}

// ListByUser returns a newest-first page of a user's transactions plus the
// total row count.
func (r *PaymentRepo) ListByUser(ctx context.Context, userID string, page, limit int) ([]domain.PaymentTransaction, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM payment_transactions WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payment transactions: %w", err)
	}

	offset := (page - 1) * limit
	query := fmt.Sprintf(`SELECT %s FROM payment_transactions
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, paymentColumns)

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list payment transactions: %w", err)
	}
	defer rows.Close()

	txns, err := collectPaymentTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// MarkConfirmed transitions the row to CONFIRMED inside the caller's
// transaction. The provider transaction id and creditedAt are written once;
// a replay against an already-CONFIRMED row leaves both untouched.
func (r *PaymentRepo) MarkConfirmed(ctx context.Context, tx pgx.Tx, id uuid.UUID, providerTxnID string) (*domain.PaymentTransaction, error) {
	query := fmt.Sprintf(`UPDATE payment_transactions
		SET status = 'CONFIRMED',
			provider_transaction_id = COALESCE(provider_transaction_id, NULLIF($2, '')),
			credited_at = COALESCE(credited_at, NOW()),
			updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'CONFIRMED')
		RETURNING %s`, paymentColumns)

	txn, err := scanPaymentTransaction(tx.QueryRow(ctx, query, id, providerTxnID))
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, r.transitionRejection(ctx, tx, id, domain.PaymentStatusConfirmed)
	}
	return txn, nil
}

// MarkFailed transitions PENDING -> FAILED.
func (r *PaymentRepo) MarkFailed(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	return r.markTerminal(ctx, id, domain.PaymentStatusFailed)
}

// MarkExpired transitions PENDING -> EXPIRED.
func (r *PaymentRepo) MarkExpired(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	return r.markTerminal(ctx, id, domain.PaymentStatusExpired)
}

func (r *PaymentRepo) markTerminal(ctx context.Context, id uuid.UUID, status domain.PaymentStatus) (*domain.PaymentTransaction, error) {
	query := fmt.Sprintf(`UPDATE payment_transactions
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING %s`, paymentColumns)

	txn, err := scanPaymentTransaction(r.pool.QueryRow(ctx, query, id, string(status)))
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, r.transitionRejection(ctx, nil, id, status)
	}
	return txn, nil
}

// transitionRejection distinguishes a missing row from a guarded-out
// transition after a zero-row UPDATE.
func (r *PaymentRepo) transitionRejection(ctx context.Context, tx pgx.Tx, id uuid.UUID, target domain.PaymentStatus) error {
	var current string
	var err error
	if tx != nil {
		err = tx.QueryRow(ctx, `SELECT status FROM payment_transactions WHERE id = $1`, id).Scan(&current)
	} else {
		err = r.pool.QueryRow(ctx, `SELECT status FROM payment_transactions WHERE id = $1`, id).Scan(&current)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.ErrNotFound("transaction")
	}
	if err != nil {
		return fmt.Errorf("read payment status: %w", err)
	}
	return apperror.ErrInvalidStateTransition(current, string(target))
}

// ListStalePending returns PENDING transactions created before cutoff,
// oldest first.
func (r *PaymentRepo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentTransaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM payment_transactions
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC LIMIT $2`, paymentColumns)

	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	defer rows.Close()

	return collectPaymentTransactions(rows)
}

func scanPaymentTransaction(row pgx.Row) (*domain.PaymentTransaction, error) {
	t := &domain.PaymentTransaction{}
	var provider, amount, status string
	err := row.Scan(
		&t.ID, &t.UserID, &provider, &amount, &t.Currency, &status,
		&t.ProviderTransactionID, &t.CreatedAt, &t.UpdatedAt, &t.CreditedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment transaction: %w", err)
	}
	t.Provider = domain.Provider(provider)
	t.Status = domain.PaymentStatus(status)
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse stored amount %q: %w", amount, err)
	}
	return t, nil
}

func collectPaymentTransactions(rows pgx.Rows) ([]domain.PaymentTransaction, error) {
	var txns []domain.PaymentTransaction
	for rows.Next() {
		t, err := scanPaymentTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}
	return txns, nil
}
