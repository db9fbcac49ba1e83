package service

import (
	"context"
	"fmt"
	"time"

	"deposit-gateway/internal/core/domain"
	"deposit-gateway/internal/core/ports"
	"deposit-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LedgerServiceImpl implements ports.LedgerService. Every balance change
// pairs an account update with an append-only ledger entry inside one
// database transaction; the (wallet_id, reference) uniqueness constraint is
// the sole idempotency key.
type LedgerServiceImpl struct {
	walletRepo ports.WalletRepository
	transactor ports.DBTransactor
	log        zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(walletRepo ports.WalletRepository, transactor ports.DBTransactor, log zerolog.Logger) *LedgerServiceImpl {
	return &LedgerServiceImpl{walletRepo: walletRepo, transactor: transactor, log: log}
}

// Credit runs CreditTx inside its own database transaction.
func (s *LedgerServiceImpl) Credit(ctx context.Context, userID string, amount decimal.Decimal, currency, reference string) (*ports.CreditResult, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	result, err := s.CreditTx(ctx, dbTx, userID, amount, currency, reference)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return result, nil
}

// CreditTx upserts the wallet, inserts the ledger entry and increments the
// balance inside the caller's transaction. A duplicate reference returns
// Credited=false with the balance untouched.
func (s *LedgerServiceImpl) CreditTx(ctx context.Context, tx pgx.Tx, userID string, amount decimal.Decimal, currency, reference string) (*ports.CreditResult, error) {
	if !amount.IsPositive() {
		return nil, apperror.Validation("credit amount must be positive")
	}

	wallet, err := s.walletRepo.UpsertForUpdate(ctx, tx, userID, currency)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("upsert wallet: %w", err))
	}

	entry := &domain.WalletLedgerEntry{
		ID:        uuid.New(),
		WalletID:  wallet.ID,
		Direction: domain.LedgerDirectionCredit,
		Amount:    amount,
		Reference: reference,
		CreatedAt: time.Now().UTC(),
	}
	inserted, err := s.walletRepo.InsertLedgerEntry(ctx, tx, entry)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("insert ledger entry: %w", err))
	}
	if !inserted {
		s.log.Debug().
			Str("wallet_id", wallet.ID.String()).
			Str("reference", reference).
			Msg("duplicate ledger reference, credit skipped")
		return &ports.CreditResult{Balance: wallet.Balance, Credited: false}, nil
	}

	newBalance, err := s.walletRepo.AddToBalance(ctx, tx, wallet.ID, amount)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("increment balance: %w", err))
	}

	s.log.Info().
		Str("wallet_id", wallet.ID.String()).
		Str("user_id", userID).
		Str("amount", amount.StringFixed(2)).
		Str("reference", reference).
		Msg("wallet credited")

	return &ports.CreditResult{Balance: newBalance, Credited: true}, nil
}

// DebitTx mirrors CreditTx with a negative delta. Reserved for withdrawal
// work; it refuses to take the balance below zero.
func (s *LedgerServiceImpl) DebitTx(ctx context.Context, tx pgx.Tx, userID string, amount decimal.Decimal, currency, reference string) (*ports.CreditResult, error) {
	if !amount.IsPositive() {
		return nil, apperror.Validation("debit amount must be positive")
	}

	wallet, err := s.walletRepo.UpsertForUpdate(ctx, tx, userID, currency)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("upsert wallet: %w", err))
	}
	if wallet.Balance.LessThan(amount) {
		return nil, apperror.Conflict("insufficient balance")
	}

	entry := &domain.WalletLedgerEntry{
		ID:        uuid.New(),
		WalletID:  wallet.ID,
		Direction: domain.LedgerDirectionDebit,
		Amount:    amount,
		Reference: reference,
		CreatedAt: time.Now().UTC(),
	}
	inserted, err := s.walletRepo.InsertLedgerEntry(ctx, tx, entry)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("insert ledger entry: %w", err))
	}
	if !inserted {
		return &ports.CreditResult{Balance: wallet.Balance, Credited: false}, nil
	}

	newBalance, err := s.walletRepo.AddToBalance(ctx, tx, wallet.ID, amount.Neg())
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("decrement balance: %w", err))
	}
	return &ports.CreditResult{Balance: newBalance, Credited: true}, nil
}
