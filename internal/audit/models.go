package audit

import "time"

// Event is an immutable, append-only audit record.
//
// Invariants:
// - Events are never updated or deleted.
// - organization_id is required for tenancy isolation.
// - Every ledger mutation produces one event carrying its reference.
type Event struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`

	Type EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// Reference is the triggering id: call id, payment session id, admin idempotency key.
	Reference   string `json:"reference,omitempty" db:"reference"`
	AmountMinor int64  `json:"amount_minor,omitempty" db:"amount_minor"`

	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON (JSONB in Postgres).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeWalletDebit   EventType = "wallet_debit"
	EventTypeWalletCredit  EventType = "wallet_credit"
	EventTypeAICreditSpend EventType = "ai_credit_spend"
	EventTypeAICreditGrant EventType = "ai_credit_grant"
	EventTypeAdminAction   EventType = "admin_action"
)
