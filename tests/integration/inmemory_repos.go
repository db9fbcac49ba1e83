package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"deposit-gateway/internal/core/domain"
	"deposit-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// --- In-Memory Payment Repo ---

type inMemoryPaymentRepo struct {
	mu   sync.Mutex
	txns map[uuid.UUID]*domain.PaymentTransaction
}

func newInMemoryPaymentRepo() *inMemoryPaymentRepo {
	return &inMemoryPaymentRepo{txns: make(map[uuid.UUID]*domain.PaymentTransaction)}
}

func (r *inMemoryPaymentRepo) Create(ctx context.Context, t *domain.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.txns[t.ID] = &cp
	return nil
}

func (r *inMemoryPaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txns[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *inMemoryPaymentRepo) ListByUser(ctx context.Context, userID string, page, limit int) ([]domain.PaymentTransaction, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []domain.PaymentTransaction
	for _, t := range r.txns {
		if t.UserID == userID {
			all = append(all, *t)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	start := (page - 1) * limit
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r *inMemoryPaymentRepo) MarkConfirmed(ctx context.Context, tx pgx.Tx, id uuid.UUID, providerTxnID string) (*domain.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txns[id]
	if !ok {
		return nil, apperror.ErrNotFound("transaction")
	}
	switch t.Status {
	case domain.PaymentStatusPending:
		now := time.Now().UTC()
		t.Status = domain.PaymentStatusConfirmed
		if t.ProviderTransactionID == nil && providerTxnID != "" {
			p := providerTxnID
			t.ProviderTransactionID = &p
		}
		if t.CreditedAt == nil {
			t.CreditedAt = &now
		}
		t.UpdatedAt = now
	case domain.PaymentStatusConfirmed:
		// idempotent no-op
	default:
		return nil, apperror.ErrInvalidStateTransition(string(t.Status), string(domain.PaymentStatusConfirmed))
	}
	cp := *t
	return &cp, nil
}

func (r *inMemoryPaymentRepo) MarkFailed(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	return r.markTerminal(id, domain.PaymentStatusFailed)
}

func (r *inMemoryPaymentRepo) MarkExpired(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	return r.markTerminal(id, domain.PaymentStatusExpired)
}

func (r *inMemoryPaymentRepo) markTerminal(id uuid.UUID, status domain.PaymentStatus) (*domain.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txns[id]
	if !ok {
		return nil, apperror.ErrNotFound("transaction")
	}
	if t.Status != domain.PaymentStatusPending {
		return nil, apperror.ErrInvalidStateTransition(string(t.Status), string(status))
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	return &cp, nil
}

func (r *inMemoryPaymentRepo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []domain.PaymentTransaction
	for _, t := range r.txns {
		if t.Status == domain.PaymentStatusPending && t.CreatedAt.Before(cutoff) {
			stale = append(stale, *t)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (r *inMemoryPaymentRepo) backdate(id uuid.UUID, age time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txns[id].CreatedAt = time.Now().UTC().Add(-age)
}

// --- In-Memory Wallet Repo ---

type inMemoryWalletRepo struct {
	mu      sync.Mutex
	wallets map[string]*domain.WalletAccount
	refs    map[string]bool
	entries []domain.WalletLedgerEntry
}

func newInMemoryWalletRepo() *inMemoryWalletRepo {
	return &inMemoryWalletRepo{
		wallets: make(map[string]*domain.WalletAccount),
		refs:    make(map[string]bool),
	}
}

func (r *inMemoryWalletRepo) GetByUserID(ctx context.Context, userID string) (*domain.WalletAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[userID]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (r *inMemoryWalletRepo) UpsertForUpdate(ctx context.Context, tx pgx.Tx, userID, currency string) (*domain.WalletAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[userID]
	if !ok {
		now := time.Now().UTC()
		w = &domain.WalletAccount{
			ID: uuid.New(), UserID: userID, Balance: decimal.Zero,
			Currency: currency, CreatedAt: now, UpdatedAt: now,
		}
		r.wallets[userID] = w
	}
	cp := *w
	return &cp, nil
}

func (r *inMemoryWalletRepo) InsertLedgerEntry(ctx context.Context, tx pgx.Tx, entry *domain.WalletLedgerEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := entry.WalletID.String() + "|" + entry.Reference
	if r.refs[key] {
		return false, nil
	}
	r.refs[key] = true
	r.entries = append(r.entries, *entry)
	return true, nil
}

func (r *inMemoryWalletRepo) AddToBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wallets {
		if w.ID == walletID {
			w.Balance = w.Balance.Add(delta)
			w.UpdatedAt = time.Now().UTC()
			return w.Balance, nil
		}
	}
	return decimal.Zero, fmt.Errorf("wallet not found: %s", walletID)
}

func (r *inMemoryWalletRepo) ListLedgerEntries(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.WalletLedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WalletLedgerEntry
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].WalletID == walletID {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}

func (r *inMemoryWalletRepo) ledgerEntryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// --- In-Memory User Repo ---

type inMemoryUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newInMemoryUserRepo() *inMemoryUserRepo {
	return &inMemoryUserRepo{users: make(map[string]*domain.User)}
}

func (r *inMemoryUserRepo) Upsert(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		cp := *user
		r.users[user.ID] = &cp
	}
	return nil
}

// --- In-Memory Audit Repo ---

type inMemoryAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func newInMemoryAuditRepo() *inMemoryAuditRepo {
	return &inMemoryAuditRepo{}
}

func (r *inMemoryAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

// --- In-Memory Transactor (no-op tx) ---

type inMemoryTransactor struct{}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return &noopTx{}, nil
}

// noopTx is a no-op pgx.Tx implementation for in-memory testing.
type noopTx struct{}

func (t *noopTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *noopTx) Commit(ctx context.Context) error          { return nil }
func (t *noopTx) Rollback(ctx context.Context) error        { return nil }
func (t *noopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *noopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *noopTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *noopTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *noopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *noopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *noopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *noopTx) Conn() *pgx.Conn { return nil }
