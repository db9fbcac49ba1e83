package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"deposit-gateway/internal/core/domain"
	"deposit-gateway/internal/core/ports"
	"deposit-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// webhookResultTTL bounds the Redis replay fast path. Replays older than
// this fall through to the database, which answers them correctly anyway.
const webhookResultTTL = 24 * time.Hour

// sweepBatchSize caps how many stale rows one sweep pass expires.
const sweepBatchSize = 100

// webhookSigningKeys is the exact subset of payload fields covered by the
// provider signature.
var webhookSigningKeys = []string{"transactionId", "providerTransactionId", "status", "amount", "currency"}

// PaymentServiceImpl implements ports.PaymentService. It composes the
// signature codec, provider registry, wallet ledger, payment store, retry
// queue and audit log into the deposit lifecycle engine.
type PaymentServiceImpl struct {
	payments   ports.PaymentRepository
	users      ports.UserRepository
	ledger     ports.LedgerService
	registry   *ProviderRegistry
	sigSvc     ports.SignatureService
	transactor ports.DBTransactor
	audit      ports.AuditService
	cache      ports.WebhookResultCache // nil = fast path disabled
	queue      ports.RetryQueue         // nil until SetRetryQueue
	expiry     time.Duration
	log        zerolog.Logger
}

// NewPaymentService creates a new PaymentServiceImpl. The retry queue is
// attached afterwards via SetRetryQueue because the queue's processor is
// this service.
func NewPaymentService(
	payments ports.PaymentRepository,
	users ports.UserRepository,
	ledger ports.LedgerService,
	registry *ProviderRegistry,
	sigSvc ports.SignatureService,
	transactor ports.DBTransactor,
	audit ports.AuditService,
	cache ports.WebhookResultCache,
	expiry time.Duration,
	log zerolog.Logger,
) *PaymentServiceImpl {
	return &PaymentServiceImpl{
		payments:   payments,
		users:      users,
		ledger:     ledger,
		registry:   registry,
		sigSvc:     sigSvc,
		transactor: transactor,
		audit:      audit,
		cache:      cache,
		expiry:     expiry,
		log:        log,
	}
}

// SetRetryQueue attaches the retry queue. Must be called before serving
// traffic; webhook failures are not retried until then.
func (s *PaymentServiceImpl) SetRetryQueue(q ports.RetryQueue) {
	s.queue = q
}

// CreateDeposit opens a PENDING transaction and hands back the provider
// redirect URL.
func (s *PaymentServiceImpl) CreateDeposit(ctx context.Context, req ports.DepositRequest) (*ports.DepositResponse, error) {
	if req.UserID == "" {
		return nil, apperror.ErrUnauthenticated()
	}
	if !req.Amount.IsPositive() {
		return nil, apperror.Validation("amount must be positive")
	}
	settings, ok := s.registry.Get(req.Provider)
	if !ok {
		return nil, apperror.Validation("unknown provider")
	}
	currency := req.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	role := req.Role
	if role == "" {
		role = domain.RoleUser
	}
	if err := s.users.Upsert(ctx, &domain.User{ID: req.UserID, Role: role}); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("upsert user: %w", err))
	}

	now := time.Now().UTC()
	txn := &domain.PaymentTransaction{
		ID:        uuid.New(),
		UserID:    req.UserID,
		Provider:  req.Provider,
		Amount:    req.Amount,
		Currency:  currency,
		Status:    domain.PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.payments.Create(ctx, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create transaction: %w", err))
	}

	s.audit.Record(ctx, req.UserID, domain.AuditDepositCreated, "payment_transaction", txn.ID.String(), map[string]any{
		"provider": string(req.Provider),
		"amount":   req.Amount.StringFixed(2),
		"currency": currency,
	})

	redirectURL := fmt.Sprintf("%s?orderId=%s&amount=%s&currency=%s",
		settings.BaseURL, txn.ID.String(), req.Amount.String(), currency)

	s.log.Info().
		Str("transaction_id", txn.ID.String()).
		Str("user_id", req.UserID).
		Str("provider", string(req.Provider)).
		Str("amount", req.Amount.StringFixed(2)).
		Msg("deposit created")

	return &ports.DepositResponse{TransactionID: txn.ID, RedirectURL: redirectURL}, nil
}

// GetStatus returns a transaction after an ownership check.
func (s *PaymentServiceImpl) GetStatus(ctx context.Context, id uuid.UUID, caller domain.Identity) (*domain.PaymentTransaction, error) {
	if caller.UserID == "" {
		return nil, apperror.ErrUnauthenticated()
	}
	txn, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if !caller.IsAdmin() && caller.UserID != txn.UserID {
		return nil, apperror.ErrForbidden("not the transaction owner")
	}
	return txn, nil
}

// ListUserDeposits returns a newest-first page of a user's deposits. Admins
// may list any user; everyone else only themselves.
func (s *PaymentServiceImpl) ListUserDeposits(ctx context.Context, userID string, caller domain.Identity, page, limit int) ([]domain.PaymentTransaction, int64, error) {
	if caller.UserID == "" {
		return nil, 0, apperror.ErrUnauthenticated()
	}
	if !caller.IsAdmin() && caller.UserID != userID {
		return nil, 0, apperror.ErrForbidden("cannot list another user's deposits")
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	txns, total, err := s.payments.ListByUser(ctx, userID, page, limit)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list deposits: %w", err))
	}
	return txns, total, nil
}

// HandleWebhook is the critical path: authenticate the source, verify the
// signature, cross-check the stored transaction, then apply the declared
// outcome. Transient failures after verification are enqueued for retry and
// surfaced as 500 so the provider redelivers.
func (s *PaymentServiceImpl) HandleWebhook(ctx context.Context, rawPayload []byte, sourceIP string) (*ports.WebhookResult, error) {
	payload, err := decodeWebhookPayload(rawPayload)
	if err != nil {
		return nil, apperror.BadRequest("malformed webhook payload")
	}

	providerRaw, hasProvider := stringField(payload, "provider")
	signature, hasSignature := stringField(payload, "signature")
	if !hasProvider || !hasSignature {
		return nil, apperror.BadRequest("provider and signature are required")
	}
	provider, ok := domain.ParseProvider(providerRaw)
	if !ok {
		return nil, apperror.BadRequest("unknown provider")
	}
	settings, _ := s.registry.Get(provider)

	txnIDRaw, _ := stringField(payload, "transactionId")

	if !s.registry.IsIPAllowed(provider, sourceIP) {
		s.audit.Record(ctx, domain.ActorSystem, domain.AuditWebhookIPRejected, "webhook", txnIDRaw, map[string]any{
			"provider":  string(provider),
			"source_ip": sourceIP,
		})
		return nil, apperror.ErrForbidden("webhook source address not allowed")
	}

	subset := make(map[string]any, len(webhookSigningKeys))
	for _, key := range webhookSigningKeys {
		if v, present := payload[key]; present {
			subset[key] = v
		}
	}
	if !s.sigSvc.Verify(settings.HMACSecret, subset, signature) {
		s.audit.Record(ctx, domain.ActorSystem, domain.AuditWebhookSignatureRejected, "webhook", txnIDRaw, map[string]any{
			"provider":  string(provider),
			"source_ip": sourceIP,
		})
		return nil, apperror.ErrSignatureRejected()
	}

	// Replay fast path: a byte-identical redelivery carries the same
	// signature and already passed the same checks once. Purely an
	// optimisation; the ledger constraint is the real guarantee.
	if s.cache != nil {
		if cached, cacheErr := s.cache.Get(ctx, signature); cacheErr != nil {
			s.log.Warn().Err(cacheErr).Msg("webhook result cache read failed, falling through")
		} else if cached != nil {
			return cached, nil
		}
	}

	if txnIDRaw == "" {
		return nil, apperror.BadRequest("transactionId is required")
	}
	txnID, err := uuid.Parse(txnIDRaw)
	if err != nil {
		return nil, apperror.BadRequest("transactionId is malformed")
	}

	txn, err := s.payments.GetByID(ctx, txnID)
	if err != nil {
		internalErr := apperror.InternalError(fmt.Errorf("load transaction: %w", err))
		s.enqueueRetry(payload, txnID)
		return nil, internalErr
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}

	if mismatch := s.crossCheck(payload, provider, txn); mismatch != "" {
		s.audit.Record(ctx, domain.ActorSystem, domain.AuditWebhookMismatch, "payment_transaction", txn.ID.String(), map[string]any{
			"provider": string(provider),
			"field":    mismatch,
		})
		return nil, apperror.Conflict("webhook payload disagrees with stored transaction on " + mismatch)
	}

	declared, _ := stringField(payload, "status")
	providerTxnID, _ := stringField(payload, "providerTransactionId")

	var result *ports.WebhookResult
	switch domain.PaymentStatus(declared) {
	case domain.PaymentStatusConfirmed:
		result, err = s.confirmAndCredit(ctx, txn, providerTxnID)
	case domain.PaymentStatusFailed:
		result, err = s.failFromWebhook(ctx, txn, providerTxnID)
	default:
		return nil, apperror.BadRequest("unsupported webhook status")
	}
	if err != nil {
		if apperror.IsTransient(err) {
			s.enqueueRetry(payload, txnID)
		}
		return nil, err
	}

	if s.cache != nil {
		// Store the replay answer: any later identical delivery is, by
		// definition, a duplicate that moved no money.
		if cacheErr := s.cache.Set(ctx, signature, &ports.WebhookResult{Credited: false}, webhookResultTTL); cacheErr != nil {
			s.log.Warn().Err(cacheErr).Msg("webhook result cache write failed")
		}
	}
	return result, nil
}

// crossCheck compares the webhook's declared provider, amount and currency
// with the stored transaction. Returns the first mismatching field name, or
// "" if consistent. Amounts are compared as decimal values rather than wire
// strings, so "10.5" and "10.50" agree.
func (s *PaymentServiceImpl) crossCheck(payload map[string]any, provider domain.Provider, txn *domain.PaymentTransaction) string {
	if provider != txn.Provider {
		return "provider"
	}
	if currency, ok := stringField(payload, "currency"); !ok || currency != txn.Currency {
		return "currency"
	}
	wireAmount, ok := amountWireString(payload["amount"])
	if !ok {
		return "amount"
	}
	amount, err := decimal.NewFromString(wireAmount)
	if err != nil || !amount.Equal(txn.Amount) {
		return "amount"
	}
	return ""
}

// confirmAndCredit applies a CONFIRMED webhook: wallet credit and status
// transition commit in one database transaction. A concurrent duplicate
// loses the ledger insert, observes Credited=false, and still confirms.
func (s *PaymentServiceImpl) confirmAndCredit(ctx context.Context, txn *domain.PaymentTransaction, providerTxnID string) (*ports.WebhookResult, error) {
	if txn.Status == domain.PaymentStatusConfirmed {
		return &ports.WebhookResult{Credited: false}, nil
	}
	if !txn.Status.CanTransitionTo(domain.PaymentStatusConfirmed) {
		return nil, apperror.ErrInvalidStateTransition(string(txn.Status), string(domain.PaymentStatusConfirmed))
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	credit, err := s.ledger.CreditTx(ctx, dbTx, txn.UserID, txn.Amount, txn.Currency, txn.ID.String())
	if err != nil {
		return nil, err
	}
	if _, err := s.payments.MarkConfirmed(ctx, dbTx, txn.ID, providerTxnID); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.audit.Record(ctx, domain.ActorSystem, domain.AuditWebhookConfirmed, "payment_transaction", txn.ID.String(), map[string]any{
		"provider_transaction_id": providerTxnID,
		"credited":                credit.Credited,
	})
	s.log.Info().
		Str("transaction_id", txn.ID.String()).
		Str("user_id", txn.UserID).
		Bool("credited", credit.Credited).
		Str("balance", credit.Balance.StringFixed(2)).
		Msg("deposit confirmed")

	return &ports.WebhookResult{Credited: credit.Credited}, nil
}

// failFromWebhook applies a FAILED webhook. Already-FAILED rows are an
// idempotent no-op; other terminal states reject.
func (s *PaymentServiceImpl) failFromWebhook(ctx context.Context, txn *domain.PaymentTransaction, providerTxnID string) (*ports.WebhookResult, error) {
	if txn.Status == domain.PaymentStatusFailed {
		return &ports.WebhookResult{Credited: false}, nil
	}
	if !txn.Status.CanTransitionTo(domain.PaymentStatusFailed) {
		return nil, apperror.ErrInvalidStateTransition(string(txn.Status), string(domain.PaymentStatusFailed))
	}
	if _, err := s.payments.MarkFailed(ctx, txn.ID); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, domain.ActorSystem, domain.AuditWebhookFailed, "payment_transaction", txn.ID.String(), map[string]any{
		"provider_transaction_id": providerTxnID,
	})
	return &ports.WebhookResult{Credited: false}, nil
}

// enqueueRetry schedules a first retry attempt carrying the verified webhook
// intent.
func (s *PaymentServiceImpl) enqueueRetry(payload map[string]any, txnID uuid.UUID) {
	if s.queue == nil {
		return
	}
	declared, _ := stringField(payload, "status")
	providerTxnID, _ := stringField(payload, "providerTransactionId")
	s.queue.Enqueue(ports.RetryTask{
		TransactionID:  txnID,
		ProviderTxnID:  providerTxnID,
		DeclaredStatus: domain.PaymentStatus(declared),
		Attempt:        1,
	})
}

// ProcessRetry is the retry queue's processor. A returned error re-enqueues
// the task; permanent rejections are logged and dropped.
func (s *PaymentServiceImpl) ProcessRetry(ctx context.Context, task ports.RetryTask) error {
	txn, err := s.payments.GetByID(ctx, task.TransactionID)
	if err != nil {
		return fmt.Errorf("load transaction for retry: %w", err)
	}
	if txn == nil {
		return nil
	}

	switch task.DeclaredStatus {
	case domain.PaymentStatusConfirmed:
		_, err = s.confirmAndCredit(ctx, txn, task.ProviderTxnID)
	case domain.PaymentStatusFailed:
		_, err = s.failFromWebhook(ctx, txn, task.ProviderTxnID)
	default:
		return nil
	}
	if err != nil {
		if apperror.IsTransient(err) {
			return err
		}
		s.log.Warn().Err(err).
			Str("transaction_id", task.TransactionID.String()).
			Msg("retry dropped: transition no longer valid")
	}
	return nil
}

// Reconcile is the admin-triggered expiry decision for one transaction.
func (s *PaymentServiceImpl) Reconcile(ctx context.Context, id uuid.UUID, caller domain.Identity) (*domain.PaymentTransaction, error) {
	if caller.UserID == "" {
		return nil, apperror.ErrUnauthenticated()
	}
	if !caller.IsAdmin() {
		return nil, apperror.ErrForbidden("reconciliation requires admin role")
	}
	txn, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if txn.Status != domain.PaymentStatusPending || time.Since(txn.CreatedAt) <= s.expiry {
		return txn, nil
	}
	expired, err := s.payments.MarkExpired(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, caller.UserID, domain.AuditReconciledExpired, "payment_transaction", txn.ID.String(), map[string]any{
		"age": time.Since(txn.CreatedAt).String(),
	})
	return expired, nil
}

// ExpireStalePending expires PENDING transactions older than the settlement
// window. Races with webhook handling are harmless: the state machine
// forbids EXPIRED->CONFIRMED, so whichever transition commits first wins.
func (s *PaymentServiceImpl) ExpireStalePending(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.expiry)
	stale, err := s.payments.ListStalePending(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list stale pending: %w", err))
	}

	expired := 0
	for i := range stale {
		txn := &stale[i]
		if _, err := s.payments.MarkExpired(ctx, txn.ID); err != nil {
			// A webhook may have settled it between list and update.
			s.log.Debug().Err(err).Str("transaction_id", txn.ID.String()).Msg("sweep skipped transaction")
			continue
		}
		s.audit.Record(ctx, domain.ActorSystem, domain.AuditReconciledExpired, "payment_transaction", txn.ID.String(), map[string]any{
			"age": time.Since(txn.CreatedAt).String(),
		})
		expired++
	}
	if expired > 0 {
		s.log.Info().Int("expired", expired).Msg("reconciliation sweep expired stale deposits")
	}
	return expired, nil
}

// decodeWebhookPayload parses the raw body preserving numeric wire forms.
func decodeWebhookPayload(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func stringField(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key].(string)
	return v, ok && v != ""
}

// amountWireString extracts the amount exactly as it appeared on the wire.
func amountWireString(v any) (string, bool) {
	switch val := v.(type) {
	case json.Number:
		return val.String(), true
	case string:
		return val, true
	default:
		return "", false
	}
}
