package postgres

import (
	"context"
	"errors"
	"fmt"

	"deposit-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const walletColumns = `id, user_id, balance::text, currency, created_at, updated_at`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// GetByUserID fetches a wallet without locking. Returns nil, nil when the
// user has no wallet yet.
func (r *WalletRepo) GetByUserID(ctx context.Context, userID string) (*domain.WalletAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM wallet_accounts WHERE user_id = $1`, walletColumns)
	return scanWallet(r.pool.QueryRow(ctx, query, userID))
}

// UpsertForUpdate creates the wallet with a zero balance if absent and
// returns the row. The ON CONFLICT DO UPDATE arm is a no-op write that
// makes the insert return the existing row with its lock held for the
// remainder of tx.
func (r *WalletRepo) UpsertForUpdate(ctx context.Context, tx pgx.Tx, userID, currency string) (*domain.WalletAccount, error) {
	query := fmt.Sprintf(`INSERT INTO wallet_accounts (id, user_id, balance, currency, created_at, updated_at)
		VALUES ($1, $2, 0, $3, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING %s`, walletColumns)

	wallet, err := scanWallet(tx.QueryRow(ctx, query, uuid.New(), userID, currency))
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, fmt.Errorf("upsert wallet returned no row for user %s", userID)
	}
	return wallet, nil
}

// InsertLedgerEntry appends a ledger entry. Returns false without error when
// the (wallet_id, reference) key already exists; ON CONFLICT DO NOTHING
// keeps the surrounding transaction usable after a duplicate.
func (r *WalletRepo) InsertLedgerEntry(ctx context.Context, tx pgx.Tx, entry *domain.WalletLedgerEntry) (bool, error) {
	query := `INSERT INTO wallet_ledger_entries (id, wallet_id, direction, amount, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (wallet_id, reference) DO NOTHING`

	tag, err := tx.Exec(ctx, query,
		entry.ID, entry.WalletID, string(entry.Direction),
		entry.Amount.StringFixed(2), entry.Reference, entry.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AddToBalance applies a signed delta and returns the new balance.
func (r *WalletRepo) AddToBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	query := `UPDATE wallet_accounts
		SET balance = balance + $2::numeric, updated_at = NOW()
		WHERE id = $1
		RETURNING balance::text`

	var balanceText string
	if err := tx.QueryRow(ctx, query, walletID, delta.StringFixed(2)).Scan(&balanceText); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("wallet not found: %s", walletID)
		}
		return decimal.Zero, fmt.Errorf("update wallet balance: %w", err)
	}
	balance, err := decimal.NewFromString(balanceText)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse stored balance %q: %w", balanceText, err)
	}
	return balance, nil
}

// ListLedgerEntries returns a wallet's newest entries.
func (r *WalletRepo) ListLedgerEntries(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.WalletLedgerEntry, error) {
	query := `SELECT id, wallet_id, direction, amount::text, reference, created_at
		FROM wallet_ledger_entries WHERE wallet_id = $1
		ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.WalletLedgerEntry
	for rows.Next() {
		var e domain.WalletLedgerEntry
		var direction, amount string
		if err := rows.Scan(&e.ID, &e.WalletID, &direction, &amount, &e.Reference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Direction = domain.LedgerDirection(direction)
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse ledger amount %q: %w", amount, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return entries, nil
}

func scanWallet(row pgx.Row) (*domain.WalletAccount, error) {
	w := &domain.WalletAccount{}
	var balance string
	err := row.Scan(&w.ID, &w.UserID, &balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("parse stored balance %q: %w", balance, err)
	}
	return w, nil
}
