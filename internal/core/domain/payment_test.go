package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseProvider(t *testing.T) {
	for _, valid := range []string{"JAZZCASH", "EASYPAISA", "SADAPAY"} {
		p, ok := ParseProvider(valid)
		assert.True(t, ok)
		assert.Equal(t, Provider(valid), p)
	}

	for _, invalid := range []string{"", "jazzcash", "STRIPE"} {
		_, ok := ParseProvider(invalid)
		assert.False(t, ok, "%q should not parse", invalid)
	}
}

func TestPaymentStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to PaymentStatus
		allowed  bool
	}{
		{PaymentStatusPending, PaymentStatusConfirmed, true},
		{PaymentStatusPending, PaymentStatusFailed, true},
		{PaymentStatusPending, PaymentStatusExpired, true},
		{PaymentStatusConfirmed, PaymentStatusConfirmed, true}, // idempotent replay
		{PaymentStatusConfirmed, PaymentStatusFailed, false},
		{PaymentStatusConfirmed, PaymentStatusExpired, false},
		{PaymentStatusFailed, PaymentStatusConfirmed, false},
		{PaymentStatusFailed, PaymentStatusFailed, false},
		{PaymentStatusExpired, PaymentStatusConfirmed, false},
		{PaymentStatusExpired, PaymentStatusPending, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestPaymentStatus_IsTerminal(t *testing.T) {
	assert.False(t, PaymentStatusPending.IsTerminal())
	assert.True(t, PaymentStatusConfirmed.IsTerminal())
	assert.True(t, PaymentStatusFailed.IsTerminal())
	assert.True(t, PaymentStatusExpired.IsTerminal())
}

func TestIdentity_IsAdmin(t *testing.T) {
	assert.True(t, Identity{UserID: "ops", Role: RoleAdmin}.IsAdmin())
	assert.False(t, Identity{UserID: "u1", Role: RoleUser}.IsAdmin())
	assert.False(t, Identity{}.IsAdmin())
}
