package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Concurrent redeliveries of the same confirmation must move money exactly
// once, regardless of interleaving.
func TestConcurrentWebhookDeliveries(t *testing.T) {
	app := newTestApp(t)
	txnID := app.createDeposit(t, "user-1", "JAZZCASH", "500.00")
	body := app.signedWebhook(t, jazzSecret, confirmFields(txnID, "500.00"))

	const deliveries = 16
	results := make(chan bool, deliveries)
	var wg sync.WaitGroup

	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPost, app.server.URL+"/api/payment/webhook", bytes.NewReader(body))
			if err != nil {
				t.Error(err)
				return
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := app.server.Client().Do(req)
			if err != nil {
				t.Error(err)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("unexpected status %d", resp.StatusCode)
				return
			}
			var decoded struct {
				Credited bool `json:"credited"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
				t.Error(err)
				return
			}
			results <- decoded.Credited
		}()
	}
	wg.Wait()
	close(results)

	credited := 0
	for c := range results {
		if c {
			credited++
		}
	}
	assert.Equal(t, 1, credited, "exactly one delivery should credit")
	assert.Equal(t, 1, app.wallets.ledgerEntryCount())

	wallet, err := app.wallets.GetByUserID(t.Context(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, wallet)
	assert.Equal(t, "500.00", wallet.Balance.StringFixed(2))
}
