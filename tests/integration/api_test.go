package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"deposit-gateway/config"
	"deposit-gateway/internal/adapter/http/handler"
	redisadapter "deposit-gateway/internal/adapter/storage/redis"
	"deposit-gateway/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	jazzSecret = "jazz-integration-secret"
	easySecret = "easy-integration-secret"
	sadaSecret = "sada-integration-secret"

	testExpiry = 30 * time.Minute
)

// testApp builds a full application stack: real services and router, an
// in-memory persistence layer and a miniredis-backed webhook result cache.
type testApp struct {
	server   *httptest.Server
	payments *inMemoryPaymentRepo
	wallets  *inMemoryWalletRepo
	sig      *service.HMACSignatureService
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	log := zerolog.Nop()

	mr := miniredis.RunT(t)
	redisClient := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	payments := newInMemoryPaymentRepo()
	wallets := newInMemoryWalletRepo()
	users := newInMemoryUserRepo()
	audits := newInMemoryAuditRepo()
	transactor := newInMemoryTransactor()

	providers := config.ProvidersConfig{
		JazzCash:  config.ProviderConfig{HMACSecret: jazzSecret, BaseURL: "https://sandbox.jazzcash.test/checkout"},
		EasyPaisa: config.ProviderConfig{HMACSecret: easySecret, BaseURL: "https://sandbox.easypaisa.test/checkout"},
		SadaPay:   config.ProviderConfig{HMACSecret: sadaSecret, BaseURL: "https://sandbox.sadapay.test/checkout"},
	}

	sig := service.NewHMACSignatureService()
	registry := service.NewProviderRegistry(providers)
	auditSvc := service.NewAuditService(audits, log)
	ledgerSvc := service.NewLedgerService(wallets, transactor, log)
	cache := redisadapter.NewWebhookResultCache(redisClient)

	paymentSvc := service.NewPaymentService(
		payments, users, ledgerSvc, registry, sig, transactor, auditSvc, cache, testExpiry, log,
	)

	router := handler.SetupRouter(handler.RouterDeps{
		PaymentSvc: paymentSvc,
		Logger:     log,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testApp{server: srv, payments: payments, wallets: wallets, sig: sig}
}

func (a *testApp) request(t *testing.T, method, path string, body []byte, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, a.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = nil
	}
	return resp, decoded
}

func asUser(userID string) map[string]string {
	return map[string]string{"x-user-id": userID}
}

func asAdmin(userID string) map[string]string {
	return map[string]string{"x-user-id": userID, "x-user-role": "admin"}
}

// createDeposit opens a deposit through the API and returns the transaction ID.
func (a *testApp) createDeposit(t *testing.T, userID, provider, amount string) string {
	t.Helper()
	body := []byte(fmt.Sprintf(`{"provider":%q,"amount":%s,"currency":"PKR"}`, provider, amount))
	resp, decoded := a.request(t, http.MethodPost, "/api/payment/deposit", body, asUser(userID))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, decoded["transactionId"])
	require.NotEmpty(t, decoded["redirectUrl"])
	return decoded["transactionId"].(string)
}

// signedWebhook signs the provider subset of fields and returns the full
// webhook body ready to POST.
func (a *testApp) signedWebhook(t *testing.T, secret string, fields map[string]any) []byte {
	t.Helper()
	signature := a.sig.Sign(secret, fields)

	payload := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		payload[k] = v
	}
	payload["provider"] = providerFor(secret)
	payload["signature"] = signature

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return raw
}

func providerFor(secret string) string {
	switch secret {
	case easySecret:
		return "EASYPAISA"
	case sadaSecret:
		return "SADAPAY"
	default:
		return "JAZZCASH"
	}
}

func confirmFields(txnID, amount string) map[string]any {
	return map[string]any{
		"transactionId":         txnID,
		"providerTransactionId": "JC-" + txnID[:8],
		"status":                "CONFIRMED",
		"amount":                amount,
		"currency":              "PKR",
	}
}

func uuidMust(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp(t)

	resp, decoded := app.request(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decoded["status"])
}

func TestDepositConfirmFlow(t *testing.T) {
	app := newTestApp(t)
	txnID := app.createDeposit(t, "user-1", "JAZZCASH", "500.00")

	body := app.signedWebhook(t, jazzSecret, confirmFields(txnID, "500.00"))
	resp, decoded := app.request(t, http.MethodPost, "/api/payment/webhook", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decoded["credited"])

	resp, decoded = app.request(t, http.MethodGet, "/api/payment/status/"+txnID, nil, asUser("user-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CONFIRMED", decoded["status"])
	assert.NotEmpty(t, decoded["providerTransactionId"])
	assert.NotEmpty(t, decoded["creditedAt"])

	wallet, err := app.wallets.GetByUserID(t.Context(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, wallet)
	assert.Equal(t, "500.00", wallet.Balance.StringFixed(2))
}

func TestDuplicateWebhookCreditsOnce(t *testing.T) {
	app := newTestApp(t)
	txnID := app.createDeposit(t, "user-1", "EASYPAISA", "250.00")

	body := app.signedWebhook(t, easySecret, map[string]any{
		"transactionId":         txnID,
		"providerTransactionId": "EP-777",
		"status":                "CONFIRMED",
		"amount":                "250.00",
		"currency":              "PKR",
	})

	resp, decoded := app.request(t, http.MethodPost, "/api/payment/webhook", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decoded["credited"])

	// Byte-identical redelivery: answered from the replay cache, no money moves.
	resp, decoded = app.request(t, http.MethodPost, "/api/payment/webhook", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decoded["credited"])

	wallet, err := app.wallets.GetByUserID(t.Context(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "250.00", wallet.Balance.StringFixed(2))
	assert.Equal(t, 1, app.wallets.ledgerEntryCount())
}

func TestWebhookTamperedSignature(t *testing.T) {
	app := newTestApp(t)
	txnID := app.createDeposit(t, "user-1", "JAZZCASH", "100.00")

	// Sign for 100.00, then declare 999.00 on the wire.
	fields := confirmFields(txnID, "100.00")
	signature := app.sig.Sign(jazzSecret, fields)
	fields["amount"] = "999.00"
	fields["provider"] = "JAZZCASH"
	fields["signature"] = signature
	body, err := json.Marshal(fields)
	require.NoError(t, err)

	resp, decoded := app.request(t, http.MethodPost, "/api/payment/webhook", body, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHENTICATED", decoded["error"])

	wallet, _ := app.wallets.GetByUserID(t.Context(), "user-1")
	assert.Nil(t, wallet)
}

func TestWebhookUnknownTransaction(t *testing.T) {
	app := newTestApp(t)

	body := app.signedWebhook(t, sadaSecret, map[string]any{
		"transactionId":         "2e9b0c1a-58dd-4a2f-9f6e-1c7a3b5d9e00",
		"providerTransactionId": "SP-1",
		"status":                "CONFIRMED",
		"amount":                "50.00",
		"currency":              "PKR",
	})
	resp, decoded := app.request(t, http.MethodPost, "/api/payment/webhook", body, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decoded["error"])
}

func TestWebhookAmountMismatch(t *testing.T) {
	app := newTestApp(t)
	txnID := app.createDeposit(t, "user-1", "JAZZCASH", "100.00")

	// Correctly signed, but for a different amount than the stored deposit.
	body := app.signedWebhook(t, jazzSecret, confirmFields(txnID, "999.00"))
	resp, decoded := app.request(t, http.MethodPost, "/api/payment/webhook", body, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CONFLICT", decoded["error"])
	assert.Contains(t, decoded["message"], "amount")
}

func TestFailedWebhookBlocksLaterConfirm(t *testing.T) {
	app := newTestApp(t)
	txnID := app.createDeposit(t, "user-1", "SADAPAY", "75.00")

	failBody := app.signedWebhook(t, sadaSecret, map[string]any{
		"transactionId":         txnID,
		"providerTransactionId": "SP-9",
		"status":                "FAILED",
		"amount":                "75.00",
		"currency":              "PKR",
	})
	resp, decoded := app.request(t, http.MethodPost, "/api/payment/webhook", failBody, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decoded["credited"])

	resp, decoded = app.request(t, http.MethodGet, "/api/payment/status/"+txnID, nil, asUser("user-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "FAILED", decoded["status"])

	// A later CONFIRMED delivery for the same transaction is rejected.
	confirmBody := app.signedWebhook(t, sadaSecret, confirmFields(txnID, "75.00"))
	resp, decoded = app.request(t, http.MethodPost, "/api/payment/webhook", confirmBody, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INVALID_STATE_TRANSITION", decoded["error"])

	wallet, _ := app.wallets.GetByUserID(t.Context(), "user-1")
	assert.Nil(t, wallet)
}

func TestStatusOwnership(t *testing.T) {
	app := newTestApp(t)
	txnID := app.createDeposit(t, "user-1", "JAZZCASH", "10.00")

	resp, decoded := app.request(t, http.MethodGet, "/api/payment/status/"+txnID, nil, asUser("user-2"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", decoded["error"])

	resp, _ = app.request(t, http.MethodGet, "/api/payment/status/"+txnID, nil, asAdmin("ops-1"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, decoded = app.request(t, http.MethodGet, "/api/payment/status/"+txnID, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHENTICATED", decoded["error"])
}

func TestReconcileExpiresStaleDeposit(t *testing.T) {
	app := newTestApp(t)
	txnID := app.createDeposit(t, "user-1", "JAZZCASH", "300.00")

	// A fresh deposit is left alone.
	resp, decoded := app.request(t, http.MethodPost, "/api/payment/reconcile/"+txnID, nil, asAdmin("ops-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PENDING", decoded["status"])

	// Non-admins cannot reconcile at all.
	resp, decoded = app.request(t, http.MethodPost, "/api/payment/reconcile/"+txnID, nil, asUser("user-1"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", decoded["error"])

	// Past the settlement window the deposit expires.
	app.payments.backdate(uuidMust(t, txnID), 2*time.Hour)
	resp, decoded = app.request(t, http.MethodPost, "/api/payment/reconcile/"+txnID, nil, asAdmin("ops-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "EXPIRED", decoded["status"])

	// A webhook arriving after expiry is rejected and nothing is credited.
	body := app.signedWebhook(t, jazzSecret, confirmFields(txnID, "300.00"))
	resp, decoded = app.request(t, http.MethodPost, "/api/payment/webhook", body, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INVALID_STATE_TRANSITION", decoded["error"])

	wallet, _ := app.wallets.GetByUserID(t.Context(), "user-1")
	assert.Nil(t, wallet)
}

func TestListDeposits(t *testing.T) {
	app := newTestApp(t)
	for i := 0; i < 3; i++ {
		app.createDeposit(t, "user-1", "JAZZCASH", fmt.Sprintf("%d.00", (i+1)*10))
	}
	app.createDeposit(t, "user-2", "SADAPAY", "5.00")

	resp, decoded := app.request(t, http.MethodGet, "/api/user/deposits?page=1&limit=2", nil, asUser("user-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), decoded["total"])
	assert.Len(t, decoded["deposits"], 2)

	// Admins may inspect any user's history.
	resp, decoded = app.request(t, http.MethodGet, "/api/user/deposits?userId=user-2", nil, asAdmin("ops-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decoded["total"])

	// Other users may not.
	resp, decoded = app.request(t, http.MethodGet, "/api/user/deposits?userId=user-2", nil, asUser("user-1"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", decoded["error"])
}
