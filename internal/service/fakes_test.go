package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"deposit-gateway/internal/core/domain"
	"deposit-gateway/internal/core/ports"
	"deposit-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// --- in-memory payment repo ---

type fakePaymentRepo struct {
	mu          sync.Mutex
	txns        map[uuid.UUID]*domain.PaymentTransaction
	failGetByID bool
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{txns: make(map[uuid.UUID]*domain.PaymentTransaction)}
}

func (r *fakePaymentRepo) Create(ctx context.Context, t *domain.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.txns[t.ID] = &cp
	return nil
}

func (r *fakePaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGetByID {
		return nil, fmt.Errorf("connection refused")
	}
	t, ok := r.txns[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *fakePaymentRepo) ListByUser(ctx context.Context, userID string, page, limit int) ([]domain.PaymentTransaction, int64, error) {
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

func (r *fakePaymentRepo) MarkConfirmed(ctx context.Context, tx pgx.Tx, id uuid.UUID, providerTxnID string) (*domain.PaymentTransaction, error) {
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

func (r *fakePaymentRepo) MarkFailed(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	return r.markTerminal(id, domain.PaymentStatusFailed)
}

func (r *fakePaymentRepo) MarkExpired(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	return r.markTerminal(id, domain.PaymentStatusExpired)
}

func (r *fakePaymentRepo) markTerminal(id uuid.UUID, status domain.PaymentStatus) (*domain.PaymentTransaction, error) {
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

func (r *fakePaymentRepo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentTransaction, error) {
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

// setCreatedAt backdates a stored transaction for expiry tests.
func (r *fakePaymentRepo) setCreatedAt(id uuid.UUID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txns[id].CreatedAt = at
}

// --- in-memory wallet repo ---

type fakeWalletRepo struct {
	mu      sync.Mutex
	wallets map[string]*domain.WalletAccount // keyed by user id
	refs    map[string]bool                  // walletID|reference
	entries []domain.WalletLedgerEntry
}

func newFakeWalletRepo() *fakeWalletRepo {
	return &fakeWalletRepo{
		wallets: make(map[string]*domain.WalletAccount),
		refs:    make(map[string]bool),
	}
}

func (r *fakeWalletRepo) GetByUserID(ctx context.Context, userID string) (*domain.WalletAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[userID]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (r *fakeWalletRepo) UpsertForUpdate(ctx context.Context, tx pgx.Tx, userID, currency string) (*domain.WalletAccount, error) {
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

func (r *fakeWalletRepo) InsertLedgerEntry(ctx context.Context, tx pgx.Tx, entry *domain.WalletLedgerEntry) (bool, error) {
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

func (r *fakeWalletRepo) AddToBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
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

func (r *fakeWalletRepo) ListLedgerEntries(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.WalletLedgerEntry, error) {
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

// --- in-memory user repo ---

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.Role
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]domain.Role)}
}

func (r *fakeUserRepo) Upsert(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		r.users[user.ID] = user.Role
	}
	return nil
}

// --- synchronous audit recorder ---

type recordingAudit struct {
	mu      sync.Mutex
	actions []domain.AuditAction
}

func (a *recordingAudit) Record(ctx context.Context, actor string, action domain.AuditAction, entityType, entityID string, metadata map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

func (a *recordingAudit) has(action domain.AuditAction) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, got := range a.actions {
		if got == action {
			return true
		}
	}
	return false
}

// --- retry queue recorder ---

type recordingQueue struct {
	mu    sync.Mutex
	tasks []ports.RetryTask
}

func (q *recordingQueue) Enqueue(task ports.RetryTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
}

func (q *recordingQueue) Stop() {}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// --- no-op transactor ---

type fakeTransactor struct{}

func (t *fakeTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
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
