package pricing

import "time"

// MinutePricing is an organization-specific per-minute rate with an effective window.
// Amounts are minor units (int64).
type MinutePricing struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`

	Direction CallDirection `json:"direction" db:"direction"`

	RatePerMinuteMinor int64 `json:"rate_per_minute_minor" db:"rate_per_minute_minor"`

	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status PricingStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// activeAt reports whether p applies at instant at.
func (p MinutePricing) activeAt(at time.Time) bool {
	if p.Status != PricingStatusActive {
		return false
	}
	if at.Before(p.EffectiveFrom) {
		return false
	}
	return p.EffectiveTo == nil || at.Before(*p.EffectiveTo)
}

type PricingStatus string

const (
	PricingStatusActive   PricingStatus = "active"
	PricingStatusInactive PricingStatus = "inactive"
)

type CallDirection string

const (
	CallDirectionInbound  CallDirection = "inbound"
	CallDirectionOutbound CallDirection = "outbound"
)
