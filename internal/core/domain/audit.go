package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActorSystem marks audit entries produced by background machinery rather
// than an authenticated caller.
const ActorSystem = "system"

// AuditAction tags an audited state-changing event.
type AuditAction string

const (
	AuditDepositCreated           AuditAction = "deposit_created"
	AuditWebhookIPRejected        AuditAction = "webhook_ip_rejected"
	AuditWebhookSignatureRejected AuditAction = "webhook_signature_rejected"
	AuditWebhookMismatch          AuditAction = "webhook_mismatch"
	AuditWebhookConfirmed         AuditAction = "webhook_confirmed"
	AuditWebhookFailed            AuditAction = "webhook_failed"
	AuditReconciledExpired        AuditAction = "reconciled_expired"
	AuditRetryExhausted           AuditAction = "retry_exhausted"
)

// AuditLog records a single audited event. Entries are strictly additive:
// no updates, no deletes.
type AuditLog struct {
	ID         uuid.UUID      `json:"id"`
	Actor      string         `json:"actor"` // user id or "system"
	Action     AuditAction    `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
